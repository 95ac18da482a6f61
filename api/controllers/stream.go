package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/wishspace-backend/api/responses"
	"github.com/angelmondragon/wishspace-backend/internal/feed"
	"github.com/angelmondragon/wishspace-backend/internal/sessions"
	"github.com/angelmondragon/wishspace-backend/internal/wishes"
	pkgerrors "github.com/angelmondragon/wishspace-backend/pkg/errors"
	"github.com/angelmondragon/wishspace-backend/pkg/logger"
	"github.com/angelmondragon/wishspace-backend/pkg/types"
)

const (
	frameSnapshot = "snapshot"
	frameResync   = "resync"

	defaultStreamWriteTimeout = 10 * time.Second
	defaultStreamPingInterval = 30 * time.Second
	defaultStreamReadLimit    = 4096
)

// StreamSession is the live half of an opened viewer session.
type StreamSession interface {
	ID() string
	Next(ctx context.Context) (feed.Event, error)
	Close()
}

// OpenSessionFunc captures a snapshot and registers the viewer on the feed.
type OpenSessionFunc func(ctx context.Context) ([]wishes.Wish, StreamSession, error)

// SessionOpener adapts the session manager to the stream handler.
func SessionOpener(manager *sessions.Manager) OpenSessionFunc {
	if manager == nil {
		return nil
	}
	return func(ctx context.Context) ([]wishes.Wish, StreamSession, error) {
		snapshot, session, err := manager.Open(ctx)
		if err != nil {
			return nil, nil, err
		}
		return snapshot, session, nil
	}
}

type StreamOptions struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

// WishStream upgrades to a websocket, sends the board snapshot and then every
// committed change. A viewer that falls behind gets a resync frame and is
// closed so it can reconnect for a fresh snapshot.
func WishStream(open OpenSessionFunc, opts StreamOptions, logg *logger.Logger) http.HandlerFunc {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultStreamWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultStreamPingInterval
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultStreamReadLimit
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if open == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "session manager unavailable"))
			return
		}

		snapshot, session, err := open(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			session.Close()
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "stream.upgrade_failed")
			}
			return
		}

		// the read loop and the feed end the stream, not the request
		streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if logg != nil {
			streamCtx = logg.WithSessionID(streamCtx, session.ID())
			logg.Info(streamCtx, "stream.opened")
		}

		s := &stream{conn: conn, opts: opts, cancel: cancel}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.readLoop()
		}()
		go func() {
			defer wg.Done()
			s.pingLoop(streamCtx)
		}()

		reason := s.run(streamCtx, snapshot, session)

		cancel()
		session.Close()
		_ = conn.Close()
		wg.Wait()

		if logg != nil {
			logg.Info(logg.WithField(streamCtx, "reason", reason), "stream.closed")
		}
	}
}

type stream struct {
	conn   *websocket.Conn
	opts   StreamOptions
	cancel context.CancelFunc
}

func (s *stream) run(ctx context.Context, snapshot []wishes.Wish, session StreamSession) string {
	if snapshot == nil {
		snapshot = []wishes.Wish{}
	}
	if err := s.write(types.StreamFrame{Type: frameSnapshot, Data: snapshot}); err != nil {
		return "write_failed"
	}

	for {
		evt, err := session.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, feed.ErrResyncRequired):
				if s.write(types.StreamFrame{Type: frameResync}) == nil {
					s.closeWith(websocket.CloseTryAgainLater, "resync required")
				}
				return "resync"
			case errors.Is(err, feed.ErrFeedClosed):
				s.closeWith(websocket.CloseGoingAway, "server shutting down")
				return "shutdown"
			default:
				s.closeWith(websocket.CloseNormalClosure, "")
				return "client_gone"
			}
		}
		if err := s.write(types.StreamFrame{Type: string(evt.Type), Data: evt}); err != nil {
			return "write_failed"
		}
	}
}

func (s *stream) write(frame types.StreamFrame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

func (s *stream) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
}

// readLoop discards client frames and answers pongs; it ends the stream once
// the peer goes away.
func (s *stream) readLoop() {
	defer s.cancel()
	pongWait := s.opts.PingInterval + s.opts.WriteTimeout
	s.conn.SetReadLimit(s.opts.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.cancel()
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}
