// Package webapp serves the dimmer's local web interface: colour control
// over a WebSocket, firmware upload, and health and metrics endpoints.
package webapp

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/JonathanBrouwer/lightbringer/internal/light"
	"github.com/JonathanBrouwer/lightbringer/internal/ota"
	"github.com/JonathanBrouwer/lightbringer/internal/pkg/metrics"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
	"github.com/JonathanBrouwer/lightbringer/pkg/options"
	"github.com/JonathanBrouwer/lightbringer/pkg/valuesync"
)

//go:embed static
var static embed.FS

// Config holds the dependencies of the web app.
type Config struct {
	Options *options.HttpOptions
	OTA     *ota.Manager
	State   *valuesync.Synchronizer[light.State]

	// OnUpdated runs after an image was written and the response sent.
	OnUpdated func()
}

// Server is the HTTP server of the web app.
type Server struct {
	server   *http.Server
	cfg      Config
	upgrader websocket.Upgrader
	sessions chan struct{}
	log      log.Logger
}

// NewServer builds the router; it does not listen until Start.
func NewServer(cfg Config) *Server {
	if cfg.Options == nil {
		cfg.Options = options.NewHttpOptions()
	}
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64,
			WriteBufferSize: 64,
			// The dimmer lives on a home network without a fixed origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(chan struct{}, cfg.Options.MaxConnections),
		log:      log.WithName("webapp"),
	}

	s.server = &http.Server{
		Addr:              cfg.Options.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.Options.Timeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/logs", s.logs).Methods(http.MethodGet)

	r.HandleFunc("/ota", s.file("static/ota.html")).Methods(http.MethodGet).HeadersRegexp("Accept", "text/html")
	r.HandleFunc("/ota", s.otaStatus).Methods(http.MethodGet)
	r.HandleFunc("/ota", s.otaUpload).Methods(http.MethodPost)
	r.HandleFunc("/ota/accept", s.otaAccept).Methods(http.MethodPost)
	r.HandleFunc("/ota/reject", s.otaReject).Methods(http.MethodPost)

	r.HandleFunc("/light", s.getLight).Methods(http.MethodGet)
	r.HandleFunc("/light", s.putLight).Methods(http.MethodPut)
	r.HandleFunc("/ws", s.serveWS)

	r.HandleFunc("/", s.file("static/index.html")).Methods(http.MethodGet)
	r.HandleFunc("/style.css", s.file("static/style.css")).Methods(http.MethodGet)

	r.Use(s.logRequests)
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) file(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, name)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("Handled request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz fails once the descriptor is beyond repair, since no update can be
// accepted any more.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.cfg.OTA.Status(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) logs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(log.Recent())
}
