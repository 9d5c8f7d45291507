// Package server exposes a session over HTTP: a websocket that streams
// presentation frames and accepts commands, and a JSON snapshot endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxCommandBytes   = 64 << 10
	commandTimeout    = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Controller is the part of session.Controller the server drives.
type Controller interface {
	Start(ctx context.Context, prompt string) error
	Cancel(ctx context.Context) error
	ToggleCard(ctx context.Context, id string) error
	SetActiveFile(ctx context.Context, path string) error
	State() session.State
}

// Command is a client request received over the websocket.
type Command struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
	ID     string `json:"id,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Ack answers one Command.
type Ack struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	Status  session.Status `json:"status"`
	Summary string         `json:"summary"`
	Prompt  string         `json:"prompt,omitempty"`
	Frames  []render.Frame `json:"frames"`
}

var errUnknownCommand = errors.New("unknown command")

// Server serves one session.
type Server struct {
	ctrl     Controller
	hub      *Hub
	upgrader websocket.Upgrader
	router   chi.Router
}

// New returns a server for ctrl. hub must be the hub whose Sink the
// controller renders into.
func New(ctrl Controller, hub *Hub) *Server {
	s := &Server{
		ctrl: ctrl,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ws", s.handleWS)
	r.Get("/state", s.handleState)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugf("http: %s %s %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Infof("Serving session on http://%s (websocket at /ws)", ln.Addr())

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := s.ctrl.State()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(StateResponse{
		Status:  state.Status,
		Summary: state.Summary(),
		Prompt:  state.Prompt,
		Frames:  render.Snapshot(state),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("ws: upgrade failed: %v", err)
		return
	}

	c := s.hub.attach(uuid.NewString(), conn)
	logger.Debugf("ws: client %s connected from %s", c.id, r.RemoteAddr)
	go c.writePump()
	defer func() {
		s.hub.detach(c)
		logger.Debugf("ws: client %s disconnected", c.id)
	}()

	conn.SetReadLimit(maxCommandBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.hub.reply(c, Ack{Type: "ack", Error: "invalid command: " + err.Error()})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("ws: read from %s: %v", c.id, err)
			}
			return
		}
		ack := Ack{Type: "ack", Command: cmd.Type}
		if err := s.dispatch(r.Context(), cmd); err != nil {
			ack.Error = err.Error()
		}
		// A client dropped for falling behind gets no more commands.
		if !s.hub.attached(c) {
			logger.Debugf("ws: client %s was dropped, closing reader", c.id)
			return
		}
		s.hub.reply(c, ack)
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd.Type {
	case "start":
		return s.ctrl.Start(ctx, cmd.Prompt)
	case "cancel":
		return s.ctrl.Cancel(ctx)
	case "toggle":
		return s.ctrl.ToggleCard(ctx, cmd.ID)
	case "set_file":
		return s.ctrl.SetActiveFile(ctx, cmd.Path)
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd.Type)
	}
}
