// Package handlers is the HTTP surface of the billing service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/subsync/libs/httpx"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/billing"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/plans"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/webhook"
)

const (
	webhookBodyLimit = 1 << 20
	jsonBodyLimit    = 64 << 10
)

type Store interface {
	Create(ctx context.Context, u model.User) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	ListRefunds(ctx context.Context, userID string) ([]model.Refund, error)
}

type Config struct {
	JWTSecret string
	JWTTTL    time.Duration
}

type Handler struct {
	users    Store
	billing  *billing.Service
	catalog  *plans.Catalog
	webhooks *webhook.Dispatcher
	logger   *slog.Logger
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

func New(users Store, billingSvc *billing.Service, catalog *plans.Catalog, webhooks *webhook.Dispatcher, logger *slog.Logger, cfg Config) *Handler {
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = 24 * time.Hour
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		users:    users,
		billing:  billingSvc,
		catalog:  catalog,
		webhooks: webhooks,
		logger:   logger,
		cfg:      cfg,
		validate: v,
		now:      time.Now,
	}
}

// Routes mounts the API. limiter guards the unauthenticated auth endpoints
// and may be nil.
func (h *Handler) Routes(limiter httpx.Limiter) chi.Router {
	r := chi.NewRouter()
	limit := func(next http.Handler) http.Handler { return next }
	if limiter != nil {
		limit = limiter.Middleware()
	}
	bodyLimit := httpx.WithBodyLimit(jsonBodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(limit, bodyLimit)
			r.Post("/signup", h.Signup)
			r.Post("/login", h.Login)
		})

		r.With(h.requireAuth).Get("/users/me", h.Me)

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.With(bodyLimit, h.requireAuth, requireAdmin).Post("/", h.CreatePlan)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/webhooks/stripe", h.StripeWebhook)

			r.Group(func(r chi.Router) {
				r.Use(bodyLimit, h.requireAuth)
				r.Post("/checkout", h.StartCheckout)
				r.Post("/checkout/resolve", h.ResolveCheckout)
				r.Get("/subscription", h.SubscriptionDetails)
				r.Post("/subscription/upgrade", h.Upgrade)
				r.Post("/subscription/cancel", h.Cancel)
				r.Post("/refund", h.RequestRefund)
				r.Get("/refunds", h.ListRefunds)
				r.Post("/portal", h.BillingPortal)
			})
		})
	})
	return r
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Token   string `json:"token,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Message: message})
}

// writeError maps a domain error onto its status and a client safe message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"err", err,
		)
	}
	writeFail(w, status, apperr.Message(err))
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeFail(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeFail(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
