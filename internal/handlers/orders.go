package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opsdesk/service-orders/internal/middleware"
	"github.com/opsdesk/service-orders/internal/models"
	"github.com/opsdesk/service-orders/internal/orders"
)

// OrderHandler handles the service-order HTTP surface.
type OrderHandler struct {
	service *orders.Service
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(service *orders.Service) *OrderHandler {
	return &OrderHandler{service: service}
}

// Orders handles /api/orders: GET lists within the actor scope, POST creates.
func (h *OrderHandler) Orders(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.list(w, r, claims)
	case http.MethodPost:
		h.create(w, r, claims)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// OrderByID handles /api/orders/{id} and the action sub-paths
// assign, status, cancel and feedback.
func (h *OrderHandler) OrderByID(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/orders/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, claims, id)
		case http.MethodPatch:
			h.update(w, r, claims, id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if r.Method != http.MethodPatch {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "assign":
		h.assign(w, r, claims, id)
	case "status":
		h.status(w, r, claims, id)
	case "cancel":
		h.cancel(w, r, claims, id)
	case "feedback":
		h.feedback(w, r, claims, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *OrderHandler) create(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var req models.CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.Create(r.Context(), claims, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) list(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	q := r.URL.Query()
	filters := orders.Filters{
		Status:          models.Status(q.Get("status")),
		Priority:        models.Priority(q.Get("priority")),
		EstablishmentID: q.Get("establishment_id"),
		TechnicianID:    q.Get("technician_id"),
		UserID:          q.Get("user_id"),
	}
	if v := q.Get("created_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid created_from, expected RFC3339", http.StatusBadRequest)
			return
		}
		filters.CreatedFrom = &t
	}
	if v := q.Get("created_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid created_to, expected RFC3339", http.StatusBadRequest)
			return
		}
		filters.CreatedTo = &t
	}

	var page orders.Page
	if v := q.Get("limit"); v != "" {
		page.Limit, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("offset"); v != "" {
		page.Offset, _ = strconv.ParseInt(v, 10, 64)
	}

	result, err := h.service.List(r.Context(), claims, filters, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *OrderHandler) get(w http.ResponseWriter, r *http.Request, claims *models.Claims, id string) {
	order, err := h.service.Get(r.Context(), claims, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) update(w http.ResponseWriter, r *http.Request, claims *models.Claims, id string) {
	var req models.UpdateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.Update(r.Context(), claims, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) assign(w http.ResponseWriter, r *http.Request, claims *models.Claims, id string) {
	var req models.AssignRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		order *models.ServiceOrder
		err   error
	)
	// A technician supplying no id, or their own, is picking the order up.
	if claims.Role == models.RoleTechnician && (req.TechnicianID == "" || req.TechnicianID == claims.UserID) {
		order, err = h.service.SelfAssign(r.Context(), claims, id)
	} else {
		order, err = h.service.Assign(r.Context(), claims, id, req.TechnicianID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) status(w http.ResponseWriter, r *http.Request, claims *models.Claims, id string) {
	var req models.StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.ChangeStatus(r.Context(), claims, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) cancel(w http.ResponseWriter, r *http.Request, claims *models.Claims, id string) {
	var req models.CancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.Cancel(r.Context(), claims, id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) feedback(w http.ResponseWriter, r *http.Request, claims *models.Claims, id string) {
	var req models.FeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	order, err := h.service.SubmitFeedback(r.Context(), claims, id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the lifecycle error taxonomy to HTTP statuses. Anything not
// in the taxonomy is logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, orders.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, orders.ErrNotFound):
		http.Error(w, "Order not found", http.StatusNotFound)
	case errors.Is(err, orders.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, orders.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.WithError(err).Error("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
