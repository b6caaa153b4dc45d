// Package gateway implements a development stand-in for the Journi realtime
// backend: the websocket endpoint and history endpoint the chat client
// consumes, backed by in-memory sessions and a pluggable bot engine.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/journi-app/journi-go/pkg/wire"
)

// Config controls the gateway server.
type Config struct {
	Addr   string
	Engine Engine
	Logger *zerolog.Logger
}

// Server serves /ws/{sessionID}/{userID}, the history endpoint, metrics and
// health.
type Server struct {
	addr     string
	engine   Engine
	logger   zerolog.Logger
	sessions *SessionManager
	upgrader websocket.Upgrader
	router   *mux.Router
	server   *http.Server
}

func NewServer(cfg Config) *Server {
	logger := log.With().Str("component", "gateway").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	engine := cfg.Engine
	if engine == nil {
		engine = NewScriptedEngine()
	}
	addr := cfg.Addr
	if addr == "" {
		addr = ":8000"
	}

	s := &Server{
		addr:     addr,
		engine:   engine,
		logger:   logger,
		sessions: NewSessionManager(logger),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{sessionID}/{userID}", s.handleWS)
	r.HandleFunc("/api/sessions/{sessionID}/history", s.handleHistory).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.router = r

	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table, mainly for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled or an interrupt arrives, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			s.logger.Info().Msg("received interrupt signal, shutting down")
		case <-egCtx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		s.logger.Info().Str("addr", s.addr).Msg("gateway listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// mux vars are already decoded from the request path; unescaping again
	// would reject ids that legitimately contain a percent sign.
	vars := mux.Vars(r)
	sessionID := vars["sessionID"]
	userID := vars["userID"]
	if sessionID == "" || userID == "" {
		http.Error(w, "bad session or user id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := s.sessions.GetOrCreate(sessionID)
	sess.addConn(conn, userID)

	go func() {
		defer sess.removeConn(conn)
		// The request context dies when the handler returns; turns need
		// their own lifetime.
		ctx := context.Background()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wire.Outbound
			if err := json.Unmarshal(data, &msg); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("bad client frame, skipping")
				continue
			}
			sess.handleClientMessage(ctx, s.engine, userID, msg)
		}
	}()
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	snap := wire.HistorySnapshot{Messages: []wire.HistoryMessage{}, State: wire.NewSessionState()}
	if sess, ok := s.sessions.Get(sessionID); ok {
		snap = sess.Snapshot()
	}
	if snap.Messages == nil {
		snap.Messages = []wire.HistoryMessage{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Error().Err(err).Msg("encode history response")
	}
}
