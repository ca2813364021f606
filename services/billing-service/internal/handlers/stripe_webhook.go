package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/webhook"
)

// StripeWebhook receives provider events. It sits outside JWT auth: the
// signature over the raw body is the authentication.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(signature) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > webhookBodyLimit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	outcome, err := h.webhooks.Handle(r.Context(), body, signature)
	switch {
	case errors.Is(err, apperr.ErrVerification):
		h.logger.Warn("webhook rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	if outcome == webhook.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "status": "duplicate"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
