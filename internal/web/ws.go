package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	appLog "ttagenda/internal/log"
)

const controlWriteTimeout = 5 * time.Second

// socketSubscriber adapts one websocket connection to notify.Subscriber.
// Snapshot frames and control replies share writeMu so they never
// interleave on the wire.
type socketSubscriber struct {
	conn    net.Conn
	control wsutil.FrameHandlerFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSocketSubscriber(conn net.Conn) *socketSubscriber {
	return &socketSubscriber{
		conn:    conn,
		control: wsutil.ControlFrameHandler(conn, ws.StateServerSide),
	}
}

func (s *socketSubscriber) Send(ctx context.Context, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(s.conn, ws.OpText, payload)
}

// handleControl answers ping and close frames under writeMu.
func (s *socketSubscriber) handleControl(h ws.Header, r io.Reader) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	return s.control(h, r)
}

// readLoop discards client data frames until the peer closes or the
// connection fails.
func (s *socketSubscriber) readLoop() error {
	rd := &wsutil.Reader{
		Source:         s.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: s.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := s.handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if _, err := io.Copy(io.Discard, rd); err != nil {
			return err
		}
	}
}

func (s *socketSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// wsTokenOK checks the optional shared token, taken from the "token" query
// parameter or the X-WS-Token header.
func (s *Server) wsTokenOK(r *http.Request) bool {
	if s.cfg == nil || s.cfg.WSToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-WS-Token")
	}
	return secureCompare(token, s.cfg.WSToken)
}

// handleWebSocket registers the caller as a live subscriber. The first
// message is the current snapshot; later ones arrive only when today's
// schedule changes. Client frames are read and discarded until the peer
// goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.wsTokenOK(r) {
		appLog.Warn("websocket rejected: bad token", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid websocket token")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		appLog.Warn("websocket upgrade failed", "err", err.Error(), "remote", r.RemoteAddr)
		return
	}

	sub := newSocketSubscriber(conn)
	// The request context ends once the handler hijacks the connection.
	ctx := context.WithoutCancel(r.Context())

	id, err := s.hub.Subscribe(ctx, sub)
	if err != nil {
		appLog.Error("websocket subscribe failed", err, "remote", r.RemoteAddr)
		_ = sub.Close()
		return
	}
	appLog.Info("websocket subscriber connected", "id", id, "remote", r.RemoteAddr, "subscribers", s.hub.Len())

	go func() {
		defer func() {
			s.hub.Unsubscribe(id)
			_ = sub.Close()
			appLog.Info("websocket subscriber disconnected", "id", id, "subscribers", s.hub.Len())
		}()
		_ = sub.readLoop()
	}()
}
