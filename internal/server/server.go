// Package server accepts PBX WebSocket connections and pumps their audio
// frames into per-call sessions.
//
// FreeSWITCH's mod_audio_fork sends the channel UUID in the first frame,
// either as a JSON text message, a bare token, or prepended to the first
// binary audio frame. Until a UUID is latched all audio is dropped and no
// session is started; once latched the session boots in the background and
// every further binary frame is caller audio.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/session"
)

// SessionFactory builds the session for one accepted call.
type SessionFactory func(callID string) (session.Session, error)

// Server is the PBX-facing WebSocket front.
type Server struct {
	cfg     *config.Config
	factory SessionFactory
	logger  *slog.Logger
	counter atomic.Int64
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a server that hands each connection to factory.
func New(cfg *config.Config, factory SessionFactory, opts ...Option) *Server {
	s := &Server{cfg: cfg, factory: factory, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.WSHost, fmt.Sprintf("%d", s.cfg.WSPort))
	srv := &http.Server{
		Addr:        addr,
		Handler:     http.HandlerFunc(s.handle),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("listening for calls",
		"addr", addr, "mode", s.cfg.Mode, "robot", s.cfg.RobotName)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler exposes the accept handler for embedding in another mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	callID := fmt.Sprintf("call-%04d", s.counter.Add(1))
	logger := s.logger.With("call_id", callID)
	logger.Info("connection accepted", "remote", r.RemoteAddr)

	sess, err := s.factory(callID)
	if err != nil {
		logger.Error("session build failed", "error", err)
		return
	}
	ctx := r.Context()
	defer sess.Stop(context.Background())

	uuidSet := false
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logger.Info("connection closed", "error", err)
			return
		}

		if !uuidSet {
			if id := extractUUID(typ, data); id != "" {
				sess.SetUUID(id)
				uuidSet = true
				logger.Info("uuid latched", "uuid", id)
				go func() {
					if err := sess.Start(context.Background()); err != nil {
						logger.Error("session start failed", "error", err)
					}
				}()
			}
			// Audio before the UUID has nowhere to go.
			continue
		}

		if typ == websocket.MessageBinary {
			sess.HandleFrame(ctx, data)
		}
	}
}

// extractUUID pulls the channel UUID out of a first frame, or returns "".
func extractUUID(typ websocket.MessageType, data []byte) string {
	switch typ {
	case websocket.MessageBinary:
		if len(data) < 36 {
			return ""
		}
		head := string(data[:36])
		if !isPrintableASCII(head) || !strings.Contains(head, "-") {
			return ""
		}
		if _, err := uuid.Parse(head); err != nil {
			return ""
		}
		return head

	case websocket.MessageText:
		var msg struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(data, &msg); err == nil && msg.UUID != "" {
			return msg.UUID
		}
		token := strings.TrimSpace(string(data))
		if len(token) < 50 && strings.Contains(token, "-") {
			return token
		}
	}
	return ""
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
