package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mediscan/mediscan-server/cmd/config"
	"github.com/mediscan/mediscan-server/cmd/utils"
	"github.com/mediscan/mediscan-server/service/appointment"
	"github.com/mediscan/mediscan-server/service/availability"
	"github.com/mediscan/mediscan-server/service/caption"
	"github.com/mediscan/mediscan-server/service/dashboard"
	"github.com/mediscan/mediscan-server/service/metrics"
	"github.com/mediscan/mediscan-server/service/notify"
	"github.com/mediscan/mediscan-server/service/report"
	"github.com/mediscan/mediscan-server/service/session"
	"github.com/mediscan/mediscan-server/service/storage"
	"github.com/mediscan/mediscan-server/service/user"
	"github.com/mediscan/mediscan-server/service/ws"
)

const shutdownTimeout = 10 * time.Second

type APIServer struct {
	cfg      *config.Config
	db       *gorm.DB
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    storage.Store
}

// NewApiServer opens the object store and prepares a private metrics
// registry. The database must already be migrated.
func NewApiServer(ctx context.Context, cfg *config.Config, db *gorm.DB, log zerolog.Logger) (*APIServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, err := storage.New(ctx, *cfg, log, m)
	if err != nil {
		return nil, err
	}

	return &APIServer{
		cfg:      cfg,
		db:       db,
		log:      log,
		registry: registry,
		metrics:  m,
		store:    store,
	}, nil
}

// Handler builds the full router with its middleware.
func (s *APIServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.requestLogger)

	router.HandleFunc("/healthz", s.healthz).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	if files, ok := storage.FileHandler(s.store); ok {
		router.PathPrefix(storage.ImagePrefix).Handler(files).Methods("GET")
	}

	subrouter := router.PathPrefix("/api/v1").Subrouter()

	tokens := utils.NewTokens(s.cfg.Auth.SecretKey, s.cfg.Auth.AccessTokenTTL, s.cfg.Auth.RefreshTokenTTL)
	hub := ws.NewHub(s.log, s.metrics)
	mailer := s.mailer()
	dispatcher := notify.NewDispatcher(s.db, mailer, s.pusher(), hub, s.log, s.metrics)

	userHandler := user.NewHandler(s.db, tokens, mailer, s.cfg.Auth.VerificationTTL, s.log)
	userHandler.RegisterRoutes(subrouter)

	protected := subrouter.NewRoute().Subrouter()
	protected.Use(tokens.AuthMiddleware, session.NewLoader(s.db).Middleware)
	userHandler.RegisterProtectedRoutes(protected)

	appointmentStore := appointment.NewStore(s.db)
	rules := availability.NewStore(s.db)
	finder := availability.NewFinder(rules, appointmentStore, s.cfg.Slots.Minutes, s.metrics)

	availabilityHandler := availability.NewAvailabilityHandler(rules, finder)
	availabilityHandler.RegisterRoutes(protected)

	appointmentHandler := appointment.NewAppointmentHandler(appointmentStore, finder, dispatcher, s.log, s.metrics)
	appointmentHandler.RegisterRoutes(protected)

	captioner := caption.NewClient(s.cfg.Caption.URL, s.cfg.Caption.Timeout, s.metrics)
	reportHandler := report.NewReportHandler(report.NewService(s.db, s.store, captioner, dispatcher, s.log))
	reportHandler.RegisterRoutes(protected)

	dashboardHandler := dashboard.NewDashboardHandler(s.db)
	dashboardHandler.RegisterRoutes(protected)

	notificationHandler := notify.NewNotificationHandler(s.db)
	notificationHandler.RegisterRoutes(protected)

	wsHandler := ws.NewHandler(hub, s.cfg.HTTP.AllowedOrigins)
	wsHandler.RegisterRoutes(protected)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.HTTP.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(cors(router))
}

func (s *APIServer) mailer() notify.Mailer {
	if !s.cfg.SMTPEnabled() {
		s.log.Warn().Msg("SMTP not configured; emails will only be logged")
		return notify.NewLogMailer(s.log)
	}
	smtp := s.cfg.SMTP
	return notify.NewSMTPMailer(smtp.Host, smtp.Port, smtp.User, smtp.Pass, smtp.From)
}

func (s *APIServer) pusher() notify.Pusher {
	if !s.cfg.Push.Enabled {
		return nil
	}
	return notify.NewExpoPusher()
}

func (s *APIServer) healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.log.Error().Err(err).Msg("health check failed")
		utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs and counts each routed request under its route
// template, so ids in paths do not explode label cardinality.
func (s *APIServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m := httpsnoop.CaptureMetrics(next, w, r)
		s.metrics.ObserveHTTP(route, r.Method, strconv.Itoa(m.Code), m.Duration)

		evt := s.log.Info()
		if m.Code >= http.StatusInternalServerError {
			evt = s.log.Error()
		}
		evt.Str("method", r.Method).
			Str("route", route).
			Int("status", m.Code).
			Int64("bytes", m.Written).
			Dur("latency", m.Duration).
			Str("remote_ip", r.RemoteAddr).
			Msg("request")
	})
}

type recoveryLogger struct {
	log zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error().Str("panic", fmt.Sprint(v...)).Msg("recovered from panic")
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *APIServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         ":" + s.cfg.HTTP.Port,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", server.Addr).Msg("server running")
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
