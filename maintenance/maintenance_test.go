package maintenance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maintenance.json")
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewStore(path, time.UTC, log), path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	active, upcoming := s.ForBridge("PC_ClarenceSt", now)
	require.Nil(t, active)
	require.Empty(t, upcoming)
	require.False(t, s.Info().FileExists)
}

func TestFullPeriodActiveAndUpcoming(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, `{
		"closures": [{
			"bridge_id": "PC_ClarenceSt",
			"description": "Deck repair",
			"periods": [
				{"start": "2025-06-10T08:00:00", "end": "2025-06-10T16:00:00"},
				{"start": "2025-06-12T08:00:00", "end": "2025-06-12T16:00:00"},
				{"start": "2025-06-01T08:00:00", "end": "2025-06-01T16:00:00"}
			]
		}]
	}`)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	active, upcoming := s.ForBridge("PC_ClarenceSt", now)
	require.NotNil(t, active)
	require.Equal(t, "Deck repair", active.Description)
	require.Equal(t, time.Date(2025, 6, 10, 16, 0, 0, 0, time.UTC), active.End)

	// The past period is dropped; the rest come back sorted.
	require.Len(t, upcoming, 2)
	require.True(t, upcoming[0].Start.Before(upcoming[1].Start))

	other, _ := s.ForBridge("SCT_LakeshoreRd", now)
	require.Nil(t, other)
}

func TestDailyPatternSpansMidnight(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, `{
		"closures": [{
			"bridge_id": "K_Kahnawake",
			"periods": [{
				"type": "daily",
				"start_date": "2025-06-10",
				"end_date": "2025-06-11",
				"daily_start_time": "21:00",
				"daily_end_time": "02:00"
			}]
		}]
	}`)

	// 01:00 on June 11 falls inside the window that started June 10 at 21:00.
	now := time.Date(2025, 6, 11, 1, 0, 0, 0, time.UTC)
	active, upcoming := s.ForBridge("K_Kahnawake", now)
	require.NotNil(t, active)
	require.Equal(t, time.Date(2025, 6, 10, 21, 0, 0, 0, time.UTC), active.Start)
	require.Equal(t, time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC), active.End)
	require.Equal(t, "Scheduled maintenance", active.Description)
	require.Len(t, upcoming, 2)
}

func TestDailyPatternExpansionCap(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, `{
		"closures": [{
			"bridge_id": "K_Kahnawake",
			"periods": [{
				"type": "daily",
				"start_date": "2025-06-10",
				"end_date": "2125-06-10",
				"daily_start_time": "08:00",
				"daily_end_time": "16:00"
			}]
		}]
	}`)
	now := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	_, upcoming := s.ForBridge("K_Kahnawake", now)
	require.NotEmpty(t, upcoming)
	require.LessOrEqual(t, len(upcoming), maxExpandDays+1)
}

func TestReloadOnChange(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, `{"closures": []}`)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 0, s.Info().ClosureCount)

	writeFile(t, path, `{
		"closures": [{"bridge_id": "PC_ClarenceSt", "periods": [{"start": "2025-06-10T08:00:00", "end": "2025-06-10T16:00:00"}]}]
	}`)
	// mtime granularity can swallow rapid rewrites; force it forward.
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Equal(t, 1, s.Info().ClosureCount)
	active, _ := s.ForBridge("PC_ClarenceSt", now)
	require.NotNil(t, active)
}

func TestInvalidFileDropsCache(t *testing.T) {
	s, path := newTestStore(t)
	writeFile(t, path, `{"closures": [{"bridge_id": "X", "periods": []}]}`)
	require.Equal(t, 1, s.Info().ClosureCount)

	writeFile(t, path, `{not json`)
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Equal(t, 0, s.Info().ClosureCount)
	require.False(t, s.Info().FileExists)
}
