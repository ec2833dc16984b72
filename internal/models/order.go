package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status represents the lifecycle state of a service order.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCancelled  Status = "CANCELLED"
)

// Priority represents the urgency of a service order.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// ServiceOrder represents a maintenance/service request raised against an establishment.
type ServiceOrder struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OrderNumber        int64              `bson:"order_number" json:"order_number"`
	Title              string             `bson:"title" json:"title"`
	Description        string             `bson:"description" json:"description"`
	Status             Status             `bson:"status" json:"status"`
	Priority           Priority           `bson:"priority" json:"priority"`
	UserID             string             `bson:"user_id" json:"user_id"`
	TechnicianID       string             `bson:"technician_id,omitempty" json:"technician_id,omitempty"`
	EstablishmentID    string             `bson:"establishment_id" json:"establishment_id"`
	Sector             string             `bson:"sector,omitempty" json:"sector,omitempty"`
	TechnicianNotes    string             `bson:"technician_notes,omitempty" json:"technician_notes,omitempty"`
	UserFeedback       string             `bson:"user_feedback,omitempty" json:"user_feedback,omitempty"`
	UserRating         int                `bson:"user_rating,omitempty" json:"user_rating,omitempty"` // 1-5
	CancellationReason string             `bson:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`
	PauseReason        string             `bson:"pause_reason,omitempty" json:"pause_reason,omitempty"`
	CreatedAt          time.Time          `bson:"created_at" json:"created_at"`
	ScheduledAt        *time.Time         `bson:"scheduled_at,omitempty" json:"scheduled_at,omitempty"`
	UpdatedAt          time.Time          `bson:"updated_at" json:"updated_at"`
	CompletedAt        *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	ConfirmedAt        *time.Time         `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
}

// OrderSummary is a listing row: the order plus display names resolved at read time.
// A referenced user or establishment that no longer exists renders as an empty name.
type OrderSummary struct {
	ServiceOrder      `bson:",inline"`
	UserName          string `bson:"-" json:"user_name,omitempty"`
	TechnicianName    string `bson:"-" json:"technician_name,omitempty"`
	EstablishmentName string `bson:"-" json:"establishment_name,omitempty"`
}

// AllowedTransitions represents the order status flow as data. Assignment
// (OPEN -> ASSIGNED) is included here but is only reachable through the
// assignment path, which also sets the technician.
var AllowedTransitions = map[Status][]Status{
	StatusOpen:       {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCancelled},
	StatusCompleted:  {StatusConfirmed},
}

// CanTransition reports whether from -> to is a legal edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s Status) bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// IsValidStatus checks if a status is one of the known lifecycle states.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusPaused,
		StatusCompleted, StatusConfirmed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidPriority checks if a priority is valid.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// CreateOrderRequest is the body of POST /api/orders.
type CreateOrderRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	EstablishmentID string     `json:"establishment_id"`
	Sector          string     `json:"sector,omitempty"`
	Priority        Priority   `json:"priority,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
}

// UpdateOrderRequest is the body of PATCH /api/orders/{id}. Pointer fields
// distinguish "not sent" from "set to zero".
type UpdateOrderRequest struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Priority        *Priority  `json:"priority,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	TechnicianNotes *string    `json:"technician_notes,omitempty"`
}

// AssignRequest is the body of PATCH /api/orders/{id}/assign.
type AssignRequest struct {
	TechnicianID string `json:"technician_id"`
}

// StatusRequest is the body of PATCH /api/orders/{id}/status.
type StatusRequest struct {
	Status Status `json:"status"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CancelRequest is the body of PATCH /api/orders/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// FeedbackRequest is the body of PATCH /api/orders/{id}/feedback.
type FeedbackRequest struct {
	UserFeedback string `json:"user_feedback"`
	UserRating   int    `json:"user_rating"`
}
