package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/subsync/libs/auth"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/model"
)

type claimsKey struct{}

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			writeFail(w, http.StatusUnauthorized, "missing or invalid Authorization header")
			return
		}
		claims, err := auth.ParseAndVerifyHS256(token, h.cfg.JWTSecret)
		if err != nil {
			writeFail(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := claimsFrom(r.Context()); c == nil || c.Role != auth.RoleAdmin {
			writeFail(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type signupRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=60"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.users.Create(r.Context(), model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.issue(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "User registered", Data: user, Token: token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, apperr.ErrUserNotFound) {
		writeFail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeFail(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.issue(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Login successful", Data: user, Token: token})
}

// meResponse adds the derived entitlement so clients need not compare the
// period end against their own clock.
type meResponse struct {
	model.User
	Entitled bool `json:"entitled"`
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), claimsFrom(r.Context()).Sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "User fetched", meResponse{User: user, Entitled: user.Entitled(h.now())})
}

func (h *Handler) issue(u model.User) (string, error) {
	return auth.Issue(u.ID, u.Email, u.Role, h.cfg.JWTSecret, h.cfg.JWTTTL, h.now())
}
