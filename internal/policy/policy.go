// Package policy decides what each role may see and mutate on a service order.
// The rules are expressed as data tables checked by small generic evaluators,
// so adding a role or field is a table edit, not a new branch.
package policy

import (
	"go.mongodb.org/mongo-driver/bson"

	"github.com/opsdesk/service-orders/internal/models"
)

// Writable field keys. These double as the bson keys used in update documents.
const (
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldPriority        = "priority"
	FieldScheduledAt     = "scheduled_at"
	FieldTechnicianNotes = "technician_notes"
)

// writableFields is the role x field permission matrix for generic updates.
// Status, assignment, cancellation and feedback go through their own paths
// and are governed by transitionEdges below.
var writableFields = map[models.Role]map[string]bool{
	models.RoleAdmin: {
		FieldTitle:           true,
		FieldDescription:     true,
		FieldPriority:        true,
		FieldScheduledAt:     true,
		FieldTechnicianNotes: true,
	},
	models.RoleTechnician: {
		FieldTechnicianNotes: true,
	},
	models.RoleEndUser: {},
}

// transitionEdges is the role x transition permission matrix. An edge must also
// be legal in models.AllowedTransitions; this table only narrows it per role.
// CONFIRMED is absent for ADMIN and TECHNICIAN on purpose: it is reachable only
// through the end user's feedback path.
var transitionEdges = map[models.Role]map[models.Status][]models.Status{
	models.RoleAdmin: {
		models.StatusOpen:       {models.StatusAssigned, models.StatusCancelled},
		models.StatusAssigned:   {models.StatusInProgress, models.StatusCancelled},
		models.StatusInProgress: {models.StatusPaused, models.StatusCompleted, models.StatusCancelled},
		models.StatusPaused:     {models.StatusInProgress, models.StatusCancelled},
	},
	models.RoleTechnician: {
		models.StatusOpen:       {models.StatusAssigned}, // self-assign only
		models.StatusAssigned:   {models.StatusInProgress},
		models.StatusInProgress: {models.StatusPaused, models.StatusCompleted},
		models.StatusPaused:     {models.StatusInProgress},
	},
	models.RoleEndUser: {
		models.StatusOpen:      {models.StatusCancelled},
		models.StatusAssigned:  {models.StatusCancelled},
		models.StatusCompleted: {models.StatusConfirmed}, // feedback path
	},
}

// CanRead reports whether the actor may see the order at all. A miss is
// reported to non-admin callers as not-found, never as forbidden.
func CanRead(claims *models.Claims, order *models.ServiceOrder) bool {
	switch claims.Role {
	case models.RoleAdmin:
		return true
	case models.RoleTechnician:
		return order.TechnicianID == claims.UserID
	case models.RoleEndUser:
		return order.UserID == claims.UserID
	default:
		return false
	}
}

// Scope returns the implicit listing filter for the actor. It is applied before
// any explicit query filters and cannot be widened by them.
func Scope(claims *models.Claims) bson.M {
	switch claims.Role {
	case models.RoleAdmin:
		return bson.M{}
	case models.RoleTechnician:
		return bson.M{"technician_id": claims.UserID}
	default:
		return bson.M{"user_id": claims.UserID}
	}
}

// FilterWritable drops every proposed change the role may not write and returns
// the applied subset plus the names of the dropped fields. Unrelated disallowed
// fields in a mixed request are dropped silently; the caller decides whether an
// entirely-dropped request is a forbidden one.
func FilterWritable(role models.Role, changes map[string]interface{}) (map[string]interface{}, []string) {
	allowed := writableFields[role]
	applied := make(map[string]interface{}, len(changes))
	var dropped []string
	for field, value := range changes {
		if allowed[field] {
			applied[field] = value
		} else {
			dropped = append(dropped, field)
		}
	}
	return applied, dropped
}

// CanTransition reports whether the role may move an order from one status to
// another. The lifecycle graph itself is validated separately by the engine.
func CanTransition(role models.Role, from, to models.Status) bool {
	for _, s := range transitionEdges[role][from] {
		if s == to {
			return true
		}
	}
	return false
}
