package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opsdesk/service-orders/internal/models"
)

// OrderCollection defines the interface for service order persistence.
type OrderCollection interface {
	InsertOrder(ctx context.Context, order models.ServiceOrder) (string, error)
	FindOrderByID(ctx context.Context, id string) (*models.ServiceOrder, error)
	FindOrders(ctx context.Context, filter bson.M, limit, offset int64) ([]models.ServiceOrder, error)
	CountOrders(ctx context.Context, filter bson.M) (int64, error)
	UpdateOrderFields(ctx context.Context, id string, set bson.M) error
	// UpdateOrderStatus applies set only if the persisted status still equals
	// expected. It reports whether the conditional write matched.
	UpdateOrderStatus(ctx context.Context, id string, expected models.Status, set bson.M) (bool, error)
	NextOrderNumber(ctx context.Context) (int64, error)
}

// MongoOrderCollection implements OrderCollection for MongoDB.
type MongoOrderCollection struct {
	Orders   *mongo.Collection
	Counters *mongo.Collection
}

// InsertOrder inserts a new service order and returns its id.
func (c *MongoOrderCollection) InsertOrder(ctx context.Context, order models.ServiceOrder) (string, error) {
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	res, err := c.Orders.InsertOne(ctx, order)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// FindOrderByID finds a service order by its id.
func (c *MongoOrderCollection) FindOrderByID(ctx context.Context, id string) (*models.ServiceOrder, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var order models.ServiceOrder
	err = c.Orders.FindOne(ctx, bson.M{"_id": objectID}).Decode(&order)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// FindOrders queries orders matching filter, newest first.
func (c *MongoOrderCollection) FindOrders(ctx context.Context, filter bson.M, limit, offset int64) ([]models.ServiceOrder, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)
	cursor, err := c.Orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var orders []models.ServiceOrder
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CountOrders counts orders matching filter.
func (c *MongoOrderCollection) CountOrders(ctx context.Context, filter bson.M) (int64, error) {
	return c.Orders.CountDocuments(ctx, filter)
}

// UpdateOrderFields applies a last-writer-wins $set to an order.
func (c *MongoOrderCollection) UpdateOrderFields(ctx context.Context, id string, set bson.M) error {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	set["updated_at"] = time.Now()
	res, err := c.Orders.UpdateOne(ctx, bson.M{"_id": objectID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOrderStatus performs the optimistic status write: the filter carries the
// status the caller observed, so a concurrent transition makes the write miss.
func (c *MongoOrderCollection) UpdateOrderStatus(ctx context.Context, id string, expected models.Status, set bson.M) (bool, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, ErrNotFound
	}
	set["updated_at"] = time.Now()
	res, err := c.Orders.UpdateOne(ctx,
		bson.M{"_id": objectID, "status": expected},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// NextOrderNumber atomically increments and returns the order number sequence.
func (c *MongoOrderCollection) NextOrderNumber(ctx context.Context) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := c.Counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "order_number"},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}
