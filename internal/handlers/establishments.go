package handlers

import (
	"net/http"

	"github.com/opsdesk/service-orders/internal/db"
	"github.com/opsdesk/service-orders/internal/middleware"
	"github.com/opsdesk/service-orders/internal/models"
)

// EstablishmentHandler exposes the establishment directory: any authenticated
// actor may list it, only admins may add to it.
type EstablishmentHandler struct {
	establishments db.EstablishmentCollection
}

// NewEstablishmentHandler creates a new establishment handler
func NewEstablishmentHandler(establishments db.EstablishmentCollection) *EstablishmentHandler {
	return &EstablishmentHandler{establishments: establishments}
}

// Establishments handles /api/establishments: GET lists, POST creates (admin).
func (h *EstablishmentHandler) Establishments(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := h.establishments.FindEstablishments(r.Context())
		if err != nil {
			http.Error(w, "Failed to list establishments", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		if claims.Role != models.RoleAdmin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		var e models.Establishment
		if !decodeBody(w, r, &e) {
			return
		}
		if e.Name == "" {
			http.Error(w, "Name is required", http.StatusBadRequest)
			return
		}
		id, err := h.establishments.InsertEstablishment(r.Context(), e)
		if err != nil {
			http.Error(w, "Failed to create establishment", http.StatusInternalServerError)
			return
		}
		created, err := h.establishments.FindEstablishmentByID(r.Context(), id)
		if err != nil {
			http.Error(w, "Failed to load establishment", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
