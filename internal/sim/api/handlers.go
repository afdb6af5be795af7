package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"adspark/internal/common/api"
	"adspark/internal/common/database"
	"adspark/internal/common/middleware"
	"adspark/internal/common/money"
	"adspark/internal/payment/validate"
	"adspark/internal/sim"
)

// Handler serves the simulated payment API.
type Handler struct {
	service *sim.Service
}

// NewHandler creates a new payment API handler
func NewHandler(service *sim.Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the payment API routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/payments", func(r chi.Router) {
		r.Post("/create-payment-order", h.CreateOrder)
		r.Get("/status/{orderId}", h.Status)
		r.Post("/activate-subscription", h.Activate)
		r.Post("/create-subscription", h.CreateSubscription)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/current", h.CurrentSubscription)
			r.Post("/cancel", h.CancelSubscription)
		})

		r.Get("/billing/history", h.BillingHistory)
	})

	return r
}

// CreateOrder handles POST /payments/create-payment-order
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sim.CreateOrderRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if !validate.SubscriptionID(req.SubscriptionID) {
		api.BadRequest(w, "invalid subscription id")
		return
	}
	if !validate.Amount(req.Amount) {
		api.BadRequest(w, "amount out of range")
		return
	}

	resp, err := h.service.CreateOrder(r.Context(), userID, &req)
	if err != nil {
		api.InternalError(w, "failed to create order")
		return
	}

	api.WriteData(w, http.StatusCreated, resp)
}

// Status handles GET /payments/status/{orderId}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if !validate.OrderID(orderID) {
		api.BadRequest(w, "invalid order id")
		return
	}

	resp, err := h.service.Status(r.Context(), orderID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "order not found")
			return
		}
		api.InternalError(w, "failed to fetch order status")
		return
	}

	api.WriteData(w, http.StatusOK, resp)
}

// Activate handles POST /payments/activate-subscription
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sim.ActivateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.service.Activate(r.Context(), userID, &req); err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "order not found")
			return
		}
		api.WriteError(w, http.StatusBadRequest, api.ErrCodePaymentFailed, "payment verification failed")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{
		"subscription_id": req.SubscriptionID,
		"status":          "active",
	})
}

// CreateSubscription handles POST /payments/create-subscription
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sim.CreateSubscriptionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), userID, &req)
	if err != nil {
		api.InternalError(w, "failed to create subscription")
		return
	}

	api.WriteData(w, http.StatusCreated, subscriptionPayload(sub))
}

// CurrentSubscription handles GET /subscriptions/current
func (h *Handler) CurrentSubscription(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sub, err := h.service.CurrentSubscription(r.Context(), userID)
	if err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "no subscription")
			return
		}
		api.InternalError(w, "failed to fetch subscription")
		return
	}

	api.WriteData(w, http.StatusOK, subscriptionPayload(sub))
}

// CancelSubscription handles POST /subscriptions/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if err := h.service.CancelSubscription(r.Context(), userID); err != nil {
		if database.IsNotFound(err) {
			api.NotFound(w, "no subscription")
			return
		}
		api.InternalError(w, "failed to cancel subscription")
		return
	}

	api.WriteData(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// BillingHistory handles GET /billing/history
func (h *Handler) BillingHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	params := api.GetPaginationParams(r, 20, 100)

	records, err := h.service.BillingHistory(r.Context(), userID, params.Limit, params.Offset)
	if err != nil {
		api.InternalError(w, "failed to fetch billing history")
		return
	}

	api.WriteData(w, http.StatusOK, records)
}

// SubscriptionPayload is the wire shape of a subscription.
type SubscriptionPayload struct {
	ID        string      `json:"id"`
	PlanID    string      `json:"plan_id"`
	Status    string      `json:"status"`
	Amount    money.Money `json:"amount"`
	StartedAt string      `json:"started_at,omitempty"`
	ExpiresAt string      `json:"expires_at,omitempty"`
}

func subscriptionPayload(sub *sim.SubscriptionRecord) SubscriptionPayload {
	p := SubscriptionPayload{
		ID:     sub.ID,
		PlanID: sub.PlanID,
		Status: sub.Status,
		Amount: sub.Amount,
	}
	if sub.StartedAt != nil {
		p.StartedAt = sub.StartedAt.UTC().Format(time.RFC3339)
	}
	if sub.ExpiresAt != nil {
		p.ExpiresAt = sub.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return p
}
