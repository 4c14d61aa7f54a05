// Package ingest feeds the vessel registry from the two AIS sources: raw
// NMEA over UDP from local receiver stations, and the AISHub HTTP API.
package ingest

import (
	ais "github.com/BertoldVdb/go-ais"

	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/boats/registry"
)

// updateFromPacket maps a decoded AIS packet onto a registry update. The
// second return is false for message types that carry nothing useful here
// (base stations, channel management, binary payloads).
func updateFromPacket(pkt ais.Packet) (int64, registry.Update, bool) {
	switch p := pkt.(type) {
	case ais.PositionReport:
		return int64(p.UserID), positionUpdate(float64(p.Latitude), float64(p.Longitude), float64(p.Sog), p.TrueHeading, float64(p.Cog)), true
	case ais.StandardClassBPositionReport:
		return int64(p.UserID), positionUpdate(float64(p.Latitude), float64(p.Longitude), float64(p.Sog), p.TrueHeading, float64(p.Cog)), true
	case ais.ExtendedClassBPositionReport:
		u := positionUpdate(float64(p.Latitude), float64(p.Longitude), float64(p.Sog), p.TrueHeading, float64(p.Cog))
		if name, ok := boats.SanitizeName(p.Name); ok {
			u.Name = &name
		}
		tc := int(p.Type)
		u.TypeCode = &tc
		if d := dimensions(p.Dimension); d != nil {
			u.Dimensions = d
		}
		return int64(p.UserID), u, true
	case ais.ShipStaticData:
		var u registry.Update
		if name, ok := boats.SanitizeName(p.Name); ok {
			u.Name = &name
		}
		tc := int(p.Type)
		u.TypeCode = &tc
		if dest, ok := boats.SanitizeName(p.Destination); ok {
			u.Destination = &dest
		}
		if d := dimensions(p.Dimension); d != nil {
			u.Dimensions = d
		}
		return int64(p.UserID), u, true
	case ais.StaticDataReport:
		var u registry.Update
		if p.ReportA.Valid {
			if name, ok := boats.SanitizeName(p.ReportA.Name); ok {
				u.Name = &name
			}
		}
		if p.ReportB.Valid {
			tc := int(p.ReportB.ShipType)
			u.TypeCode = &tc
			if d := dimensions(p.ReportB.Dimension); d != nil {
				u.Dimensions = d
			}
		}
		return int64(p.UserID), u, true
	}
	return 0, registry.Update{}, false
}

func positionUpdate(lat, lon, sog float64, heading uint16, cog float64) registry.Update {
	var u registry.Update
	if validCoordinates(lat, lon) {
		u.Lat, u.Lon = &lat, &lon
	}
	if sog < boats.SpeedNotAvailable {
		u.SpeedKnots = &sog
	}
	if heading < 360 {
		h := float64(heading)
		u.Heading = &h
	}
	if cog < boats.CourseNotAvailable {
		u.Course = &cog
	}
	return u
}

// validCoordinates rejects the AIS not-available markers (91, 181), anything
// off the globe, and the null island fix some transponders emit.
func validCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func dimensions(d ais.FieldDimension) *boats.Dimensions {
	length := int(d.A) + int(d.B)
	width := int(d.C) + int(d.D)
	if length == 0 && width == 0 {
		return nil
	}
	return &boats.Dimensions{Length: length, Width: width}
}
