package server

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/config"
)

const serviceName = "grading-api"

type Server struct {
	server *http.Server
	logger zerolog.Logger
	// appRouter держит маршруты API, chi запрещает Use после регистрации маршрутов
	appRouter chi.Router
	// rootRouter собирает общую цепочку middleware и монтирует appRouter
	rootRouter *chi.Mux
	mounted    bool
}

func NewServer(cfg config.ServerConfig, router chi.Router, logger zerolog.Logger) *Server {
	s := &Server{
		logger:     logger.With().Str("component", "http").Logger(),
		appRouter:  router,
		rootRouter: chi.NewRouter(),
	}

	s.server = &http.Server{
		Addr: cfg.Address,
		Handler: otelhttp.NewHandler(s.rootRouter, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          zerologStdLogger(s.logger),
	}

	return s
}

// Handler is the instrumented root handler, the same one ListenAndServe uses.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks until the listener closes. Shutdown is not reported as an error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.logger.Info().Str("address", ln.Addr().String()).Msg("Listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Draining HTTP connections")
	return s.server.Shutdown(ctx)
}

// SetupMiddleware installs the shared chain in front of the API router.
// Nil middlewares are skipped.
func (s *Server) SetupMiddleware(
	corsMiddleware func(http.Handler) http.Handler,
	loggerMiddleware func(http.Handler) http.Handler,
	recoveryMiddleware func(http.Handler) http.Handler,
	timeoutMiddleware func(http.Handler) http.Handler,
) {
	s.rootRouter.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.StripSlashes,
		middleware.CleanPath,
		middleware.GetHead,
		middleware.Compress(5, "application/json", "text/csv"),
	)

	// Порядок важен: cors до логгера, таймаут ближе всех к обработчику
	for _, m := range []func(http.Handler) http.Handler{
		corsMiddleware,
		loggerMiddleware,
		recoveryMiddleware,
		timeoutMiddleware,
	} {
		if m != nil {
			s.rootRouter.Use(m)
		}
	}

	if !s.mounted {
		s.rootRouter.Mount("/", s.appRouter)
		s.mounted = true
	}
}

func zerologStdLogger(log zerolog.Logger) *stdlog.Logger {
	return stdlog.New(log, "", 0)
}
