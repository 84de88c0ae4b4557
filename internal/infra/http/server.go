package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"slack-digest-bot/internal/domain"
)

// Runner запускает внеплановый прогон сводки.
type Runner interface {
	RunLast24h(ctx context.Context, trigger domain.RunTrigger) (domain.RunReport, error)
}

// StateReporter сообщает состояние планировщика для /healthz.
type StateReporter interface {
	StateName() string
	LastRunDate() string
}

// Options настраивает сервер.
type Options struct {
	Addr         string
	TriggerToken string
	// RunTimeout ограничивает ручной прогон; он длиннее обычного таймаута запросов.
	RunTimeout time.Duration
}

// Server оборачивает chi.Router с базовыми middlewares.
type Server struct {
	Router chi.Router
	srv    *http.Server
	log    zerolog.Logger
}

// NewServer создаёт HTTP сервер. state может быть nil, тогда healthz не сообщает о планировщике.
func NewServer(opts Options, runner Runner, state StateReporter, logger zerolog.Logger) *Server {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 10 * time.Minute
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	h := &handlers{runner: runner, state: state, log: logger}
	r.Group(func(fast chi.Router) {
		fast.Use(middleware.Timeout(15 * time.Second))
		fast.Get("/healthz", h.health)
		fast.Handle("/metrics", promhttp.Handler())
	})
	if opts.TriggerToken != "" && runner != nil {
		r.Group(func(protected chi.Router) {
			protected.Use(TokenAuthMiddleware(opts.TriggerToken))
			protected.Use(middleware.Timeout(opts.RunTimeout))
			protected.Post("/api/v1/summary/run", h.run)
		})
	} else {
		logger.Info().Msg("http: TRIGGER_TOKEN не задан, ручной запуск отключён")
	}

	return &Server{
		Router: r,
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      opts.RunTimeout + 30*time.Second,
		},
		log: logger,
	}
}

// Start запускает http.Server. Корректная остановка через Shutdown не считается ошибкой.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http: сервер запущен")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown корректно завершает работу сервера.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type handlers struct {
	runner Runner
	state  StateReporter
	log    zerolog.Logger
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.state != nil {
		resp["scheduler_state"] = h.state.StateName()
		resp["last_run_date"] = h.state.LastRunDate()
	}
	writeJSON(w, http.StatusOK, resp)
}

type runResponse struct {
	RunID        string `json:"run_id"`
	MessageCount int    `json:"message_count"`
	KeyPoints    int    `json:"key_points"`
	ActionItems  int    `json:"action_items"`
	MessageTS    string `json:"message_ts"`
}

func (h *handlers) run(w http.ResponseWriter, r *http.Request) {
	report, err := h.runner.RunLast24h(r.Context(), domain.TriggerManual)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		writeError(w, http.StatusConflict, "summary run already in progress")
		return
	case err != nil:
		h.log.Error().Err(err).Str("request_id", RequestID(r)).Msg("http: ручной прогон не удался")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:        report.RunID,
		MessageCount: report.Summary.MessageCount,
		KeyPoints:    len(report.Summary.KeyPoints),
		ActionItems:  len(report.Summary.ActionItems),
		MessageTS:    report.Confirmation.MessageTS,
	})
}

// TokenAuthMiddleware пропускает запросы с заголовком "Authorization: Bearer <token>" или X-Trigger-Token.
func TokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Trigger-Token")
			if auth := r.Header.Get("Authorization"); got == "" && auth != "" {
				scheme, value, ok := strings.Cut(auth, " ")
				if ok && strings.EqualFold(scheme, "Bearer") {
					got = strings.TrimSpace(value)
				}
			}
			if got == "" {
				writeError(w, http.StatusUnauthorized, "token required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
