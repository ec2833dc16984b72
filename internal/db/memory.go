package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/opsdesk/service-orders/internal/models"
)

// MemoryOrderCollection is an in-memory OrderCollection used by tests and local
// development. The conditional status write takes the same lock as reads, which
// gives it the same compare-and-swap semantics as the Mongo implementation.
type MemoryOrderCollection struct {
	mu     sync.Mutex
	orders map[string]models.ServiceOrder
	seq    int64
}

// NewMemoryOrderCollection creates an empty in-memory order store.
func NewMemoryOrderCollection() *MemoryOrderCollection {
	return &MemoryOrderCollection{orders: make(map[string]models.ServiceOrder)}
}

func (c *MemoryOrderCollection) InsertOrder(_ context.Context, order models.ServiceOrder) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	c.orders[order.ID.Hex()] = order
	return order.ID.Hex(), nil
}

func (c *MemoryOrderCollection) FindOrderByID(_ context.Context, id string) (*models.ServiceOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &order, nil
}

func (c *MemoryOrderCollection) FindOrders(_ context.Context, filter bson.M, limit, offset int64) ([]models.ServiceOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []models.ServiceOrder
	for _, order := range c.orders {
		if matchesOrder(order, filter) {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= int64(len(matched)) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (c *MemoryOrderCollection) CountOrders(_ context.Context, filter bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, order := range c.orders {
		if matchesOrder(order, filter) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryOrderCollection) UpdateOrderFields(_ context.Context, id string, set bson.M) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[id]
	if !ok {
		return ErrNotFound
	}
	applySet(&order, set)
	order.UpdatedAt = time.Now()
	c.orders[id] = order
	return nil
}

func (c *MemoryOrderCollection) UpdateOrderStatus(_ context.Context, id string, expected models.Status, set bson.M) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[id]
	if !ok || order.Status != expected {
		return false, nil
	}
	applySet(&order, set)
	order.UpdatedAt = time.Now()
	c.orders[id] = order
	return true, nil
}

func (c *MemoryOrderCollection) NextOrderNumber(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq, nil
}

func matchesOrder(order models.ServiceOrder, filter bson.M) bool {
	for key, want := range filter {
		switch key {
		case "user_id":
			if order.UserID != want {
				return false
			}
		case "technician_id":
			if order.TechnicianID != want {
				return false
			}
		case "establishment_id":
			if order.EstablishmentID != want {
				return false
			}
		case "status":
			if order.Status != want {
				return false
			}
		case "priority":
			if order.Priority != want {
				return false
			}
		case "created_at":
			bounds, ok := want.(bson.M)
			if !ok {
				return false
			}
			if from, ok := bounds["$gte"].(time.Time); ok && order.CreatedAt.Before(from) {
				return false
			}
			if to, ok := bounds["$lte"].(time.Time); ok && order.CreatedAt.After(to) {
				return false
			}
		}
	}
	return true
}

func applySet(order *models.ServiceOrder, set bson.M) {
	for key, value := range set {
		switch key {
		case "status":
			order.Status = value.(models.Status)
		case "title":
			order.Title = value.(string)
		case "description":
			order.Description = value.(string)
		case "priority":
			order.Priority = value.(models.Priority)
		case "technician_id":
			order.TechnicianID = value.(string)
		case "technician_notes":
			order.TechnicianNotes = value.(string)
		case "user_feedback":
			order.UserFeedback = value.(string)
		case "user_rating":
			order.UserRating = value.(int)
		case "cancellation_reason":
			order.CancellationReason = value.(string)
		case "pause_reason":
			order.PauseReason = value.(string)
		case "scheduled_at":
			if t, ok := value.(*time.Time); ok {
				order.ScheduledAt = t
			} else if t, ok := value.(time.Time); ok {
				order.ScheduledAt = &t
			}
		case "completed_at":
			t := value.(time.Time)
			order.CompletedAt = &t
		case "confirmed_at":
			t := value.(time.Time)
			order.ConfirmedAt = &t
		case "updated_at":
			// set below
		}
	}
}

// MemoryUserCollection is an in-memory UserCollection.
type MemoryUserCollection struct {
	mu    sync.Mutex
	users map[string]models.User
}

// NewMemoryUserCollection creates an empty in-memory user store.
func NewMemoryUserCollection() *MemoryUserCollection {
	return &MemoryUserCollection{users: make(map[string]models.User)}
}

func (c *MemoryUserCollection) InsertUser(_ context.Context, user models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	c.users[user.ID.Hex()] = user
	return nil
}

func (c *MemoryUserCollection) FindUserByID(_ context.Context, id string) (*models.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (c *MemoryUserCollection) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, user := range c.users {
		if user.Username == username {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (c *MemoryUserCollection) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, user := range c.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (c *MemoryUserCollection) FindUsersByIDs(_ context.Context, ids []string) (map[string]models.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]models.User, len(ids))
	for _, id := range ids {
		if user, ok := c.users[id]; ok {
			result[id] = user
		}
	}
	return result, nil
}

func (c *MemoryUserCollection) UpdateLastLogin(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.users[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	user.LastLogin = &now
	user.UpdatedAt = now
	c.users[id] = user
	return nil
}

// MemoryEstablishmentCollection is an in-memory EstablishmentCollection.
type MemoryEstablishmentCollection struct {
	mu             sync.Mutex
	establishments map[string]models.Establishment
}

// NewMemoryEstablishmentCollection creates an empty in-memory directory.
func NewMemoryEstablishmentCollection() *MemoryEstablishmentCollection {
	return &MemoryEstablishmentCollection{establishments: make(map[string]models.Establishment)}
}

func (c *MemoryEstablishmentCollection) InsertEstablishment(_ context.Context, e models.Establishment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	c.establishments[e.ID.Hex()] = e
	return e.ID.Hex(), nil
}

func (c *MemoryEstablishmentCollection) FindEstablishmentByID(_ context.Context, id string) (*models.Establishment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.establishments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (c *MemoryEstablishmentCollection) FindEstablishments(_ context.Context) ([]models.Establishment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Establishment, 0, len(c.establishments))
	for _, e := range c.establishments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *MemoryEstablishmentCollection) FindEstablishmentsByIDs(_ context.Context, ids []string) (map[string]models.Establishment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make(map[string]models.Establishment, len(ids))
	for _, id := range ids {
		if e, ok := c.establishments[id]; ok {
			result[id] = e
		}
	}
	return result, nil
}
