// Package orders implements the service-order lifecycle core: status
// transitions, assignment, policy-filtered updates and role-scoped listing.
// Every operation takes the acting identity explicitly; nothing is pulled from
// ambient state.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/opsdesk/service-orders/internal/db"
	"github.com/opsdesk/service-orders/internal/models"
	"github.com/opsdesk/service-orders/internal/policy"
)

// EventPublisher receives lifecycle events after a transition has been
// persisted. Implementations must not block the request path.
type EventPublisher interface {
	OrderEvent(event string, order *models.ServiceOrder, actorID string)
}

// Service is the lifecycle core. All durable state lives in the collections;
// the service itself holds no mutable state between requests.
type Service struct {
	orders         db.OrderCollection
	users          db.UserCollection
	establishments db.EstablishmentCollection
	events         EventPublisher
}

// NewService creates a lifecycle service. events may be nil.
func NewService(orders db.OrderCollection, users db.UserCollection, establishments db.EstablishmentCollection, events EventPublisher) *Service {
	return &Service{
		orders:         orders,
		users:          users,
		establishments: establishments,
		events:         events,
	}
}

// Filters are the explicit listing filters, applied on top of the actor scope.
type Filters struct {
	Status          models.Status
	Priority        models.Priority
	EstablishmentID string
	TechnicianID    string
	UserID          string
	CreatedFrom     *time.Time
	CreatedTo       *time.Time
}

// Page is offset pagination with a bounded page size.
type Page struct {
	Limit  int64
	Offset int64
}

const (
	defaultPageSize int64 = 20
	maxPageSize     int64 = 100
)

// ListResult is one page of enriched order summaries.
type ListResult struct {
	Orders []models.OrderSummary `json:"orders"`
	Total  int64                 `json:"total"`
	Limit  int64                 `json:"limit"`
	Offset int64                 `json:"offset"`
}

// Create opens a new service order on behalf of the actor.
func (s *Service) Create(ctx context.Context, claims *models.Claims, req models.CreateOrderRequest) (*models.ServiceOrder, error) {
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleEndUser {
		return nil, ErrForbidden
	}
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if req.EstablishmentID == "" {
		return nil, fmt.Errorf("%w: establishment_id is required", ErrValidation)
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.IsValidPriority(priority) {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, req.Priority)
	}

	number, err := s.orders.NextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}
	order := models.ServiceOrder{
		OrderNumber:     number,
		Title:           req.Title,
		Description:     req.Description,
		Status:          models.StatusOpen,
		Priority:        priority,
		UserID:          claims.UserID,
		EstablishmentID: req.EstablishmentID,
		Sector:          req.Sector,
		ScheduledAt:     req.ScheduledAt,
	}
	id, err := s.orders.InsertOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	created, err := s.orders.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"order_id":     id,
		"order_number": number,
		"user_id":      claims.UserID,
	}).Info("service order created")
	return created, nil
}

// Get fetches a single order within the actor's scope, enriched with display names.
func (s *Service) Get(ctx context.Context, claims *models.Claims, id string) (*models.OrderSummary, error) {
	order, err := s.visibleOrder(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	summaries := s.enrich(ctx, []models.ServiceOrder{*order})
	return &summaries[0], nil
}

// Update applies a generic field update. Fields the role may not write are
// dropped from the change set; a request consisting only of such fields fails.
func (s *Service) Update(ctx context.Context, claims *models.Claims, id string, req models.UpdateOrderRequest) (*models.ServiceOrder, error) {
	order, err := s.visibleOrder(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if req.Title != nil {
		changes[policy.FieldTitle] = *req.Title
	}
	if req.Description != nil {
		changes[policy.FieldDescription] = *req.Description
	}
	if req.Priority != nil {
		if !models.IsValidPriority(*req.Priority) {
			return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, *req.Priority)
		}
		changes[policy.FieldPriority] = *req.Priority
	}
	if req.ScheduledAt != nil {
		changes[policy.FieldScheduledAt] = *req.ScheduledAt
	}
	if req.TechnicianNotes != nil {
		changes[policy.FieldTechnicianNotes] = *req.TechnicianNotes
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	applied, dropped := policy.FilterWritable(claims.Role, changes)
	if len(applied) == 0 {
		return nil, ErrForbidden
	}
	if len(dropped) > 0 {
		log.WithFields(log.Fields{
			"order_id": id,
			"role":     claims.Role,
			"dropped":  dropped,
		}).Debug("dropped fields not writable by role")
	}

	if err := s.orders.UpdateOrderFields(ctx, order.ID.Hex(), bson.M(applied)); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.orders.FindOrderByID(ctx, order.ID.Hex())
}

// ChangeStatus validates and applies an explicit status transition. ASSIGNED is
// reachable only through the assignment path and CONFIRMED only through the
// feedback path; both are rejected here regardless of role.
func (s *Service) ChangeStatus(ctx context.Context, claims *models.Claims, id string, req models.StatusRequest) (*models.ServiceOrder, error) {
	if !models.IsValidStatus(req.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, req.Status)
	}
	order, err := s.visibleOrder(ctx, claims, id)
	if err != nil {
		return nil, err
	}

	if req.Status == order.Status {
		if models.IsTerminal(order.Status) {
			return nil, ErrInvalidTransition
		}
		// Idempotent no-op under at-least-once delivery: refresh updated_at only.
		if err := s.orders.UpdateOrderFields(ctx, order.ID.Hex(), bson.M{}); err != nil {
			return nil, err
		}
		return s.orders.FindOrderByID(ctx, order.ID.Hex())
	}

	if req.Status == models.StatusAssigned || req.Status == models.StatusConfirmed {
		return nil, ErrInvalidTransition
	}
	if !models.CanTransition(order.Status, req.Status) {
		return nil, ErrInvalidTransition
	}
	if !policy.CanTransition(claims.Role, order.Status, req.Status) {
		return nil, ErrForbidden
	}

	set := bson.M{"status": req.Status}
	switch req.Status {
	case models.StatusPaused:
		if req.Reason == "" {
			return nil, fmt.Errorf("%w: pause reason is required", ErrValidation)
		}
		set["pause_reason"] = req.Reason
	case models.StatusCancelled:
		if req.Reason == "" {
			return nil, fmt.Errorf("%w: cancellation reason is required", ErrValidation)
		}
		set["cancellation_reason"] = req.Reason
	case models.StatusCompleted:
		set["completed_at"] = time.Now()
	}
	// Notes ride along with technician/admin transitions; an end user's cancel
	// cannot write technician notes, so the field is dropped for that role.
	if req.Notes != "" && claims.Role != models.RoleEndUser {
		set["technician_notes"] = req.Notes
	}

	updated, err := s.applyTransition(ctx, claims.Role, order, req.Status, set)
	if err != nil {
		return nil, err
	}
	s.logAndPublish(order.Status, updated, claims.UserID)
	return updated, nil
}

// Cancel is a convenience alias for the CANCELLED transition.
func (s *Service) Cancel(ctx context.Context, claims *models.Claims, id, reason string) (*models.ServiceOrder, error) {
	return s.ChangeStatus(ctx, claims, id, models.StatusRequest{
		Status: models.StatusCancelled,
		Reason: reason,
	})
}

// Assign binds a technician to an OPEN order. Admin only.
func (s *Service) Assign(ctx context.Context, claims *models.Claims, orderID, technicianID string) (*models.ServiceOrder, error) {
	order, err := s.visibleOrder(ctx, claims, orderID)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleAdmin {
		return nil, ErrForbidden
	}
	if technicianID == "" {
		return nil, fmt.Errorf("%w: technician_id is required", ErrValidation)
	}
	return s.assign(ctx, claims, order, technicianID)
}

// SelfAssign lets a technician pick up an unassigned OPEN order without admin
// mediation. OPEN orders are visible to technicians for this purpose only.
func (s *Service) SelfAssign(ctx context.Context, claims *models.Claims, orderID string) (*models.ServiceOrder, error) {
	if claims.Role != models.RoleTechnician {
		return nil, ErrForbidden
	}
	order, err := s.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if order.Status != models.StatusOpen && !policy.CanRead(claims, order) {
		return nil, ErrNotFound
	}
	return s.assign(ctx, claims, order, claims.UserID)
}

func (s *Service) assign(ctx context.Context, claims *models.Claims, order *models.ServiceOrder, technicianID string) (*models.ServiceOrder, error) {
	tech, err := s.users.FindUserByID(ctx, technicianID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: technician %s not found", ErrValidation, technicianID)
		}
		return nil, err
	}
	if tech.Role != models.RoleTechnician || !tech.IsActive {
		return nil, fmt.Errorf("%w: user %s is not an active technician", ErrValidation, technicianID)
	}
	if !models.CanTransition(order.Status, models.StatusAssigned) {
		return nil, ErrInvalidTransition
	}

	set := bson.M{"status": models.StatusAssigned, "technician_id": technicianID}
	updated, err := s.applyTransition(ctx, claims.Role, order, models.StatusAssigned, set)
	if err != nil {
		return nil, err
	}
	s.logAndPublish(order.Status, updated, claims.UserID)
	return updated, nil
}

// SubmitFeedback is the end user's confirmation path: it writes feedback and
// rating once and moves the order COMPLETED -> CONFIRMED.
func (s *Service) SubmitFeedback(ctx context.Context, claims *models.Claims, id string, req models.FeedbackRequest) (*models.ServiceOrder, error) {
	order, err := s.visibleOrder(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleEndUser {
		return nil, ErrForbidden
	}
	if req.UserFeedback == "" {
		return nil, fmt.Errorf("%w: user_feedback is required", ErrValidation)
	}
	if req.UserRating < 1 || req.UserRating > 5 {
		return nil, fmt.Errorf("%w: user_rating must be between 1 and 5", ErrValidation)
	}
	if !models.CanTransition(order.Status, models.StatusConfirmed) {
		return nil, ErrInvalidTransition
	}

	set := bson.M{
		"status":        models.StatusConfirmed,
		"user_feedback": req.UserFeedback,
		"user_rating":   req.UserRating,
		"confirmed_at":  time.Now(),
	}
	updated, err := s.applyTransition(ctx, claims.Role, order, models.StatusConfirmed, set)
	if err != nil {
		return nil, err
	}
	s.logAndPublish(order.Status, updated, claims.UserID)
	return updated, nil
}

// List returns a page of orders. The actor scope is applied first; explicit
// filters that would escape a non-admin's scope are ignored, not honored.
func (s *Service) List(ctx context.Context, claims *models.Claims, f Filters, p Page) (*ListResult, error) {
	filter := policy.Scope(claims)

	if f.Status != "" {
		if !models.IsValidStatus(f.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
		}
		filter["status"] = f.Status
	}
	if f.Priority != "" {
		if !models.IsValidPriority(f.Priority) {
			return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, f.Priority)
		}
		filter["priority"] = f.Priority
	}
	if f.EstablishmentID != "" {
		filter["establishment_id"] = f.EstablishmentID
	}
	if f.TechnicianID != "" && claims.Role == models.RoleAdmin {
		filter["technician_id"] = f.TechnicianID
	}
	if f.UserID != "" && claims.Role == models.RoleAdmin {
		filter["user_id"] = f.UserID
	}
	if f.CreatedFrom != nil || f.CreatedTo != nil {
		bounds := bson.M{}
		if f.CreatedFrom != nil {
			bounds["$gte"] = *f.CreatedFrom
		}
		if f.CreatedTo != nil {
			bounds["$lte"] = *f.CreatedTo
		}
		filter["created_at"] = bounds
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	total, err := s.orders.CountOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	list, err := s.orders.FindOrders(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListResult{
		Orders: s.enrich(ctx, list),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// visibleOrder fetches an order and checks the actor may see it. Scope misses
// are reported as not-found to avoid leaking existence.
func (s *Service) visibleOrder(ctx context.Context, claims *models.Claims, id string) (*models.ServiceOrder, error) {
	order, err := s.orders.FindOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !policy.CanRead(claims, order) {
		return nil, ErrNotFound
	}
	return order, nil
}

// applyTransition performs the optimistic status write. On a precondition miss
// it re-reads and re-validates once against the current persisted status; a
// permanently illegal transition surfaces as such rather than as a conflict.
func (s *Service) applyTransition(ctx context.Context, role models.Role, order *models.ServiceOrder, to models.Status, set bson.M) (*models.ServiceOrder, error) {
	id := order.ID.Hex()
	ok, err := s.orders.UpdateOrderStatus(ctx, id, order.Status, set)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.orders.FindOrderByID(ctx, id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if !models.CanTransition(current.Status, to) {
			return nil, ErrInvalidTransition
		}
		if !policy.CanTransition(role, current.Status, to) {
			return nil, ErrForbidden
		}
		ok, err = s.orders.UpdateOrderStatus(ctx, id, current.Status, set)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
	}
	return s.orders.FindOrderByID(ctx, id)
}

// enrich attaches display names from the directory collaborators. A referenced
// entity that no longer resolves renders as absent; the page never fails.
func (s *Service) enrich(ctx context.Context, list []models.ServiceOrder) []models.OrderSummary {
	userIDs := make([]string, 0, len(list)*2)
	establishmentIDs := make([]string, 0, len(list))
	for _, o := range list {
		userIDs = append(userIDs, o.UserID)
		if o.TechnicianID != "" {
			userIDs = append(userIDs, o.TechnicianID)
		}
		establishmentIDs = append(establishmentIDs, o.EstablishmentID)
	}

	users, err := s.users.FindUsersByIDs(ctx, userIDs)
	if err != nil {
		log.WithError(err).Warn("failed to resolve users for enrichment")
		users = map[string]models.User{}
	}
	establishments, err := s.establishments.FindEstablishmentsByIDs(ctx, establishmentIDs)
	if err != nil {
		log.WithError(err).Warn("failed to resolve establishments for enrichment")
		establishments = map[string]models.Establishment{}
	}

	summaries := make([]models.OrderSummary, 0, len(list))
	for _, o := range list {
		summary := models.OrderSummary{ServiceOrder: o}
		if u, ok := users[o.UserID]; ok {
			summary.UserName = u.DisplayName()
		}
		if u, ok := users[o.TechnicianID]; ok {
			summary.TechnicianName = u.DisplayName()
		}
		if e, ok := establishments[o.EstablishmentID]; ok {
			summary.EstablishmentName = e.Name
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (s *Service) logAndPublish(from models.Status, order *models.ServiceOrder, actorID string) {
	log.WithFields(log.Fields{
		"order_id":     order.ID.Hex(),
		"order_number": order.OrderNumber,
		"from":         from,
		"to":           order.Status,
		"actor_id":     actorID,
	}).Info("service order transitioned")
	if s.events != nil {
		s.events.OrderEvent(eventName(order.Status), order, actorID)
	}
}

func eventName(to models.Status) string {
	switch to {
	case models.StatusAssigned:
		return "assigned"
	case models.StatusInProgress:
		return "in_progress"
	case models.StatusPaused:
		return "paused"
	case models.StatusCompleted:
		return "completed"
	case models.StatusConfirmed:
		return "confirmed"
	case models.StatusCancelled:
		return "cancelled"
	default:
		return "updated"
	}
}
