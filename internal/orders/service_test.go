package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/opsdesk/service-orders/internal/db"
	"github.com/opsdesk/service-orders/internal/models"
)

type fixture struct {
	svc            *Service
	orders         *db.MemoryOrderCollection
	users          *db.MemoryUserCollection
	establishments *db.MemoryEstablishmentCollection

	admin           *models.Claims
	tech1           *models.Claims
	tech2           *models.Claims
	user1           *models.Claims
	user2           *models.Claims
	establishmentID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		orders:         db.NewMemoryOrderCollection(),
		users:          db.NewMemoryUserCollection(),
		establishments: db.NewMemoryEstablishmentCollection(),
	}
	f.svc = NewService(f.orders, f.users, f.establishments, nil)

	seed := func(username string, role models.Role, first, last string) *models.Claims {
		id := primitive.NewObjectID()
		err := f.users.InsertUser(ctx, models.User{
			ID:        id,
			Username:  username,
			Email:     username + "@example.com",
			Role:      role,
			FirstName: first,
			LastName:  last,
		})
		require.NoError(t, err)
		return &models.Claims{UserID: id.Hex(), Username: username, Role: role}
	}
	f.admin = seed("admin", models.RoleAdmin, "Ada", "Admin")
	f.tech1 = seed("tech1", models.RoleTechnician, "Tim", "Turner")
	f.tech2 = seed("tech2", models.RoleTechnician, "Tara", "Torres")
	f.user1 = seed("user1", models.RoleEndUser, "Uma", "Usher")
	f.user2 = seed("user2", models.RoleEndUser, "Ugo", "Unger")

	eid, err := f.establishments.InsertEstablishment(ctx, models.Establishment{Name: "Headquarters"})
	require.NoError(t, err)
	f.establishmentID = eid
	return f
}

func (f *fixture) createOrder(t *testing.T, creator *models.Claims) *models.ServiceOrder {
	t.Helper()
	order, err := f.svc.Create(context.Background(), creator, models.CreateOrderRequest{
		Title:           "AC broken",
		Description:     "No cold air",
		EstablishmentID: f.establishmentID,
	})
	require.NoError(t, err)
	return order
}

// advance walks an order to the requested status through the normal paths.
func (f *fixture) advance(t *testing.T, order *models.ServiceOrder, to models.Status) *models.ServiceOrder {
	t.Helper()
	ctx := context.Background()
	var err error
	steps := map[models.Status][]models.Status{
		models.StatusAssigned:   {models.StatusAssigned},
		models.StatusInProgress: {models.StatusAssigned, models.StatusInProgress},
		models.StatusCompleted:  {models.StatusAssigned, models.StatusInProgress, models.StatusCompleted},
	}
	for _, step := range steps[to] {
		switch step {
		case models.StatusAssigned:
			order, err = f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.tech1.UserID)
		default:
			order, err = f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{Status: step})
		}
		require.NoError(t, err)
	}
	return order
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("end user creates an open order", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		assert.Equal(t, models.StatusOpen, order.Status)
		assert.Empty(t, order.TechnicianID)
		assert.Equal(t, f.user1.UserID, order.UserID)
		assert.Equal(t, models.PriorityMedium, order.Priority)
		assert.NotZero(t, order.OrderNumber)
	})

	t.Run("order numbers increment", func(t *testing.T) {
		first := f.createOrder(t, f.user1)
		second := f.createOrder(t, f.user1)
		assert.Equal(t, first.OrderNumber+1, second.OrderNumber)
	})

	t.Run("technician cannot create", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.tech1, models.CreateOrderRequest{
			Title:           "x",
			EstablishmentID: f.establishmentID,
		})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("missing title", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.user1, models.CreateOrderRequest{EstablishmentID: f.establishmentID})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing establishment", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.user1, models.CreateOrderRequest{Title: "x"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invalid priority", func(t *testing.T) {
		_, err := f.svc.Create(ctx, f.user1, models.CreateOrderRequest{
			Title:           "x",
			EstablishmentID: f.establishmentID,
			Priority:        "CRITICAL",
		})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("admin assigns a technician", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		assigned, err := f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.tech1.UserID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAssigned, assigned.Status)
		assert.Equal(t, f.tech1.UserID, assigned.TechnicianID)
	})

	t.Run("assigning an already assigned order fails", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.tech1.UserID)
		require.NoError(t, err)
		_, err = f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.tech2.UserID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown technician", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Assign(ctx, f.admin, order.ID.Hex(), primitive.NewObjectID().Hex())
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("assignee must hold the technician role", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.user2.UserID)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("end user cannot assign their own order", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Assign(ctx, f.user1, order.ID.Hex(), f.tech1.UserID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("technician self-assigns an open order", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		assigned, err := f.svc.SelfAssign(ctx, f.tech2, order.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, models.StatusAssigned, assigned.Status)
		assert.Equal(t, f.tech2.UserID, assigned.TechnicianID)
	})

	t.Run("self-assign on another technician's order is a scope miss", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.tech1.UserID)
		require.NoError(t, err)
		_, err = f.svc.SelfAssign(ctx, f.tech2, order.ID.Hex())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("end user cannot self-assign", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.SelfAssign(ctx, f.user1, order.ID.Hex())
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("assigned technician starts work", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusAssigned)
		updated, err := f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{Status: models.StatusInProgress})
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, updated.Status)
	})

	t.Run("another technician gets not found", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusAssigned)
		_, err := f.svc.ChangeStatus(ctx, f.tech2, order.ID.Hex(), models.StatusRequest{Status: models.StatusInProgress})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("end user cannot start work on a visible order", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusAssigned)
		_, err := f.svc.ChangeStatus(ctx, f.user1, order.ID.Hex(), models.StatusRequest{Status: models.StatusInProgress})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("illegal edge is rejected", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.ChangeStatus(ctx, f.admin, order.ID.Hex(), models.StatusRequest{Status: models.StatusCompleted})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("completion stamps completed_at and carries notes", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusInProgress)
		updated, err := f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{
			Status: models.StatusCompleted,
			Notes:  "replaced compressor",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, updated.Status)
		require.NotNil(t, updated.CompletedAt)
		assert.Equal(t, "replaced compressor", updated.TechnicianNotes)
	})

	t.Run("pause requires a reason", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusInProgress)
		_, err := f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{Status: models.StatusPaused})
		assert.ErrorIs(t, err, ErrValidation)

		paused, err := f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{
			Status: models.StatusPaused,
			Reason: "waiting for parts",
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaused, paused.Status)
		assert.Equal(t, "waiting for parts", paused.PauseReason)

		resumed, err := f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{Status: models.StatusInProgress})
		require.NoError(t, err)
		assert.Equal(t, models.StatusInProgress, resumed.Status)
	})

	t.Run("same status is an idempotent no-op", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusCompleted)
		firstCompletedAt := order.CompletedAt

		again, err := f.svc.ChangeStatus(ctx, f.tech1, order.ID.Hex(), models.StatusRequest{Status: models.StatusCompleted})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, again.Status)
		assert.Equal(t, firstCompletedAt, again.CompletedAt)
		assert.True(t, again.UpdatedAt.After(order.UpdatedAt) || again.UpdatedAt.Equal(order.UpdatedAt))
	})

	t.Run("same status in a terminal state is rejected", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Cancel(ctx, f.user1, order.ID.Hex(), "no longer needed")
		require.NoError(t, err)
		_, err = f.svc.ChangeStatus(ctx, f.admin, order.ID.Hex(), models.StatusRequest{
			Status: models.StatusCancelled,
			Reason: "again",
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("assignment and confirmation are not reachable via the status endpoint", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.ChangeStatus(ctx, f.admin, order.ID.Hex(), models.StatusRequest{Status: models.StatusAssigned})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		completed := f.advance(t, f.createOrder(t, f.user1), models.StatusCompleted)
		_, err = f.svc.ChangeStatus(ctx, f.admin, completed.ID.Hex(), models.StatusRequest{Status: models.StatusConfirmed})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown status", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.ChangeStatus(ctx, f.admin, order.ID.Hex(), models.StatusRequest{Status: "DONE"})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("creator cancels an open order", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		cancelled, err := f.svc.Cancel(ctx, f.user1, order.ID.Hex(), "no longer needed")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
		assert.Equal(t, "no longer needed", cancelled.CancellationReason)
	})

	t.Run("reason is required", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Cancel(ctx, f.user1, order.ID.Hex(), "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("creator cannot cancel once work started", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusInProgress)
		_, err := f.svc.Cancel(ctx, f.user1, order.ID.Hex(), "changed my mind")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("admin cancels in-progress work", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusInProgress)
		cancelled, err := f.svc.Cancel(ctx, f.admin, order.ID.Hex(), "site closed")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
	})

	t.Run("assigning a cancelled order fails", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Cancel(ctx, f.user1, order.ID.Hex(), "no longer needed")
		require.NoError(t, err)
		_, err = f.svc.Assign(ctx, f.admin, order.ID.Hex(), f.tech1.UserID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("creator confirms completed work", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusCompleted)
		confirmed, err := f.svc.SubmitFeedback(ctx, f.user1, order.ID.Hex(), models.FeedbackRequest{
			UserFeedback: "Great",
			UserRating:   5,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, confirmed.Status)
		assert.Equal(t, "Great", confirmed.UserFeedback)
		assert.Equal(t, 5, confirmed.UserRating)
		assert.NotNil(t, confirmed.ConfirmedAt)
	})

	t.Run("feedback is write-once", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusCompleted)
		_, err := f.svc.SubmitFeedback(ctx, f.user1, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "Great", UserRating: 5})
		require.NoError(t, err)
		_, err = f.svc.SubmitFeedback(ctx, f.user1, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "Actually fine", UserRating: 4})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("only the creating end user may confirm", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusCompleted)
		_, err := f.svc.SubmitFeedback(ctx, f.admin, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "ok", UserRating: 3})
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.svc.SubmitFeedback(ctx, f.user2, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "ok", UserRating: 3})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rating must be within scale", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusCompleted)
		_, err := f.svc.SubmitFeedback(ctx, f.user1, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "ok", UserRating: 0})
		assert.ErrorIs(t, err, ErrValidation)
		_, err = f.svc.SubmitFeedback(ctx, f.user1, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "ok", UserRating: 6})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("feedback before completion fails", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusInProgress)
		_, err := f.svc.SubmitFeedback(ctx, f.user1, order.ID.Hex(), models.FeedbackRequest{UserFeedback: "ok", UserRating: 3})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	strPtr := func(s string) *string { return &s }
	prioPtr := func(p models.Priority) *models.Priority { return &p }

	t.Run("admin edits title and priority", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		updated, err := f.svc.Update(ctx, f.admin, order.ID.Hex(), models.UpdateOrderRequest{
			Title:    strPtr("AC broken in meeting room"),
			Priority: prioPtr(models.PriorityHigh),
		})
		require.NoError(t, err)
		assert.Equal(t, "AC broken in meeting room", updated.Title)
		assert.Equal(t, models.PriorityHigh, updated.Priority)
	})

	t.Run("technician note sticks, title edit is dropped", func(t *testing.T) {
		order := f.advance(t, f.createOrder(t, f.user1), models.StatusAssigned)
		updated, err := f.svc.Update(ctx, f.tech1, order.ID.Hex(), models.UpdateOrderRequest{
			Title:           strPtr("hijacked"),
			TechnicianNotes: strPtr("needs a new fan"),
		})
		require.NoError(t, err)
		assert.Equal(t, "AC broken", updated.Title)
		assert.Equal(t, "needs a new fan", updated.TechnicianNotes)
	})

	t.Run("request made only of disallowed fields is forbidden", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Update(ctx, f.user1, order.ID.Hex(), models.UpdateOrderRequest{
			Title: strPtr("new title"),
		})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("empty request", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Update(ctx, f.admin, order.ID.Hex(), models.UpdateOrderRequest{})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invisible order is not found", func(t *testing.T) {
		order := f.createOrder(t, f.user1)
		_, err := f.svc.Update(ctx, f.user2, order.ID.Hex(), models.UpdateOrderRequest{Title: strPtr("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := f.createOrder(t, f.user1)

	t.Run("creator sees enriched order", func(t *testing.T) {
		got, err := f.svc.Get(ctx, f.user1, order.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)
		assert.Equal(t, "Uma Usher", got.UserName)
		assert.Equal(t, "Headquarters", got.EstablishmentName)
	})

	t.Run("scope miss reads as not found", func(t *testing.T) {
		_, err := f.svc.Get(ctx, f.user2, order.ID.Hex())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.svc.Get(ctx, f.tech1, order.ID.Hex())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.svc.Get(ctx, f.admin, primitive.NewObjectID().Hex())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o1 := f.createOrder(t, f.user1)
	f.createOrder(t, f.user1)
	o3 := f.createOrder(t, f.user2)
	f.advance(t, o1, models.StatusAssigned)

	t.Run("end user sees only their own orders", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.user1, Filters{}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Total)
		for _, o := range result.Orders {
			assert.Equal(t, f.user1.UserID, o.UserID)
		}
	})

	t.Run("technician sees only assigned orders", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.tech1, Filters{}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Total)
		assert.Equal(t, o1.ID, result.Orders[0].ID)
	})

	t.Run("admin sees everything", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.admin, Filters{}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(3), result.Total)
	})

	t.Run("scope cannot be widened by filters", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.user1, Filters{UserID: f.user2.UserID}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(2), result.Total)
		for _, o := range result.Orders {
			assert.Equal(t, f.user1.UserID, o.UserID)
		}

		result, err = f.svc.List(ctx, f.tech2, Filters{TechnicianID: f.tech1.UserID}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Total)
	})

	t.Run("status filter narrows within scope", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.admin, Filters{Status: models.StatusAssigned}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Total)
	})

	t.Run("admin filters by user", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.admin, Filters{UserID: f.user2.UserID}, Page{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Total)
		assert.Equal(t, o3.ID, result.Orders[0].ID)
	})

	t.Run("page size is bounded", func(t *testing.T) {
		result, err := f.svc.List(ctx, f.admin, Filters{}, Page{Limit: 100000})
		require.NoError(t, err)
		assert.Equal(t, int64(100), result.Limit)
	})

	t.Run("invalid status filter", func(t *testing.T) {
		_, err := f.svc.List(ctx, f.admin, Filters{Status: "DONE"}, Page{})
		assert.ErrorIs(t, err, ErrValidation)
	})
}
