// Package ws wraps gorilla/websocket with context-aware reads and writes.
// gorilla only unblocks an in-flight read or write through socket deadlines,
// so cancellation and timeouts are mapped onto deadlines here once instead of
// at every call site.
package ws

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one upgraded client connection.
type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// SetReadLimit bounds inbound frame size.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// ReadMessage reads one frame, honoring ctx cancellation and deadline.
func (c *Conn) ReadMessage(ctx context.Context) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetReadDeadline(deadline)
	} else {
		_ = c.c.SetReadDeadline(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = c.c.SetReadDeadline(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	mt, b, err := c.c.ReadMessage()
	if err == nil {
		return mt, b, nil
	}
	return 0, nil, mapTimeout(ctx, err, deadline, hasDeadline)
}

// WriteMessage writes one frame, honoring ctx cancellation and deadline.
func (c *Conn) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		_ = c.c.SetWriteDeadline(deadline)
	} else {
		_ = c.c.SetWriteDeadline(time.Time{})
	}
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if !active.Load() {
				return
			}
			_ = c.c.SetWriteDeadline(time.Now())
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	if err := c.c.WriteMessage(messageType, data); err != nil {
		return mapTimeout(ctx, err, deadline, hasDeadline)
	}
	return nil
}

// mapTimeout converts the deadline-induced I/O timeout back into the context
// error the caller expects. The socket timeout can race slightly ahead of the
// context timer, so a passed deadline also maps to DeadlineExceeded.
func mapTimeout(ctx context.Context, err error, deadline time.Time, hasDeadline bool) error {
	ne, ok := err.(net.Error)
	if !ok || !ne.Timeout() {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// Close closes the connection without a close frame.
func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.c.Close()
}
