// Package server exposes the content service, admin authentication and the
// event stream over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shuklalaw/sitecms/internal/auth"
	"github.com/shuklalaw/sitecms/internal/broadcast"
	"github.com/shuklalaw/sitecms/internal/clock"
	"github.com/shuklalaw/sitecms/internal/httpx"
	"github.com/shuklalaw/sitecms/internal/insights"
	"github.com/shuklalaw/sitecms/internal/service"
	"github.com/shuklalaw/sitecms/pkg/version"
)

// Task is a background loop run alongside the HTTP server until its context
// is cancelled.
type Task func(ctx context.Context) error

// Deps are the collaborators of a Server. Insights may be nil.
type Deps struct {
	Service     *service.Service
	Credentials *auth.CredentialStore
	Reset       *auth.ResetService
	Bus         *broadcast.Bus
	Insights    insights.Service
	Clock       clock.Clock
	Logger      *zap.Logger

	// Uploads serves stored images under /uploads/.
	Uploads    afero.Fs
	UploadsDir string

	CORSOrigins     []string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	Tasks           []Task
}

// Server is the HTTP front end.
type Server struct {
	svc      *service.Service
	creds    *auth.CredentialStore
	reset    *auth.ResetService
	bus      *broadcast.Bus
	insights insights.Service
	clock    clock.Clock
	logger   *zap.Logger

	uploads         http.Handler
	origins         []string
	maxBody         int64
	shutdownTimeout time.Duration
	tasks           []Task
	started         time.Time
}

// New creates a Server.
func New(deps Deps) *Server {
	s := &Server{
		svc:             deps.Service,
		creds:           deps.Credentials,
		reset:           deps.Reset,
		bus:             deps.Bus,
		insights:        deps.Insights,
		clock:           deps.Clock,
		logger:          deps.Logger,
		origins:         deps.CORSOrigins,
		maxBody:         deps.MaxBodyBytes,
		shutdownTimeout: deps.ShutdownTimeout,
		tasks:           deps.Tasks,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxBody <= 0 {
		s.maxBody = 2*service.DefaultMaxUploadBytes + 1<<20
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}
	if deps.Uploads != nil {
		fs := afero.NewHttpFs(afero.NewBasePathFs(deps.Uploads, deps.UploadsDir))
		files := http.StripPrefix("/uploads", http.FileServer(fs.Dir("/")))
		s.uploads = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/") {
				http.NotFound(w, r)
				return
			}
			files.ServeHTTP(w, r)
		})
	}
	s.started = s.clock.Now()
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/content/{section}", s.handleGetContent)
	mux.HandleFunc("POST /api/content/{section}", s.handleSaveContent)
	mux.HandleFunc("POST /api/save-all", s.handleSaveAll)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/deploy", s.handleDeploy)
	mux.HandleFunc("GET /api/deployment-status", s.handleDeploymentStatus)

	mux.HandleFunc("POST /api/admin/login", s.handleLogin)
	mux.HandleFunc("POST /api/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/reset-password", s.handleResetPassword)

	mux.HandleFunc("POST /api/contact", s.handleContact)
	mux.HandleFunc("POST /api/ai/track", s.handleTrack)
	mux.HandleFunc("GET /api/ai/insights", s.handleInsights)

	if s.bus != nil {
		mux.Handle("GET /api/events", broadcast.NewHandler(s.bus, s.logger, func(r *http.Request) bool {
			return httpx.AllowedOrigin(s.origins, r.Header.Get("Origin"))
		}))
	}
	if s.uploads != nil {
		mux.Handle("GET /uploads/", s.uploads)
	}

	h := httpx.Chain(mux,
		httpx.RequestID(),
		httpx.Logger(s.logger),
		httpx.Recover(s.logger),
		httpx.CORS(s.origins),
	)
	return otelhttp.NewHandler(h, "sitecms")
}

// Run serves on ln and runs the background tasks until ctx is cancelled or
// one of them fails, then shuts down and waits for pending mirror jobs.
func (s *Server) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Websocket streams end with gctx; Shutdown does not track hijacked conns.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	for _, task := range s.tasks {
		g.Go(func() error { return task(gctx) })
	}

	err := g.Wait()
	if s.bus != nil {
		s.bus.Close()
	}
	s.svc.Close()
	return err
}

// ListenAndRun listens on addr and calls Run.
func (s *Server) ListenAndRun(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Run(ctx, ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": now.UTC().Format(time.RFC3339Nano),
		"uptime":    now.Sub(s.started).Seconds(),
		"version":   version.Short(),
	})
}
