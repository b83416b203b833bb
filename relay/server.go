package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultShutdownDeadline = 10 * time.Second

var ErrUnexpected = errors.New("relay: unexpected server error")

// Config configures a Server.
type Config struct {
	Logger     *zerolog.Logger
	ListenAddr string
	RepoURL    string
}

// Server is the relay's WebSocket endpoint plus two small status
// endpoints: /healthz (plain-text "ok") for health checks and /stats (JSON
// room count) for basic visibility.
type Server struct {
	registry *Registry
	upgrader *websocket.Upgrader
	repoURL  string
	logger   zerolog.Logger

	sessionCtx context.Context
	*http.Server
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		registry:   NewRegistry(cfg.Logger),
		repoURL:    cfg.RepoURL,
		logger:     cfg.Logger.With().Str("component", "relay-server").Logger(),
		sessionCtx: context.Background(),
		upgrader: &websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   10000,
			WriteBufferSize:  10000,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/relay", srv.handleUpgrade)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/stats", srv.handleStats)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	session := NewSession(conn, srv.registry, srv.repoURL, &srv.logger)
	// The session's context must not be derived from the request: net/http
	// cancels r.Context() the instant handleUpgrade returns, hijacked
	// connection or not, which would tear the session down before hello/
	// joined ever reach the wire. Tie it to the server's own lifecycle
	// instead.
	go session.Serve(srv.sessionCtx)
}

func (srv *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (srv *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	b, _ := json.Marshal(map[string]int{"rooms": srv.registry.RoomCount()})
	_, _ = w.Write(b)
}

// Run starts the HTTP/WebSocket listener and blocks until ctx is
// cancelled or the listener fails.
func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	sessionCtx, cancelSessions := context.WithCancel(ctx)
	srv.sessionCtx = sessionCtx
	defer func() {
		cancelSessions()
		srv.logger.Debug().Msg("relay server stopped")
		wg.Done()
	}()

	hErr := make(chan error, 1)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("relay server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("relay server shutdown failed")
		}
	}
}
