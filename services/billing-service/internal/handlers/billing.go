package handlers

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/subsync/services/billing-service/internal/apperr"
)

type priceRequest struct {
	PriceID string `json:"price_id" validate:"required"`
}

type resolveRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func userID(r *http.Request) string {
	return claimsFrom(r.Context()).Sub
}

func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.billing.StartCheckout(r.Context(), userID(r), req.PriceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Checkout session created", sess)
}

func (h *Handler) ResolveCheckout(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.billing.ResolveCheckout(r.Context(), userID(r), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Checkout session resolved", user)
}

func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.billing.Upgrade(r.Context(), userID(r), req.PriceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Subscription updated", user)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, err := h.billing.Cancel(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Subscription canceled", user)
}

func (h *Handler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.billing.RequestRefund(r.Context(), userID(r))
	if errors.Is(err, apperr.ErrAlreadyRefunded) {
		writeFail(w, http.StatusConflict, "This charge has already been refunded")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Refund requested", refund)
}

func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := h.users.ListRefunds(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Refunds fetched", refunds)
}

func (h *Handler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	url, err := h.billing.BillingPortal(r.Context(), userID(r))
	if errors.Is(err, apperr.ErrCustomerNotFound) {
		writeFail(w, http.StatusBadRequest, "You don't have any subscription to view. Please add one!")
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Billing portal session created", map[string]string{"url": url})
}

func (h *Handler) SubscriptionDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.billing.SubscriptionDetails(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Subscription details fetched", details)
}
