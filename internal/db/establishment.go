package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/opsdesk/service-orders/internal/models"
)

// EstablishmentCollection defines the interface for the establishment directory.
type EstablishmentCollection interface {
	InsertEstablishment(ctx context.Context, e models.Establishment) (string, error)
	FindEstablishmentByID(ctx context.Context, id string) (*models.Establishment, error)
	FindEstablishments(ctx context.Context) ([]models.Establishment, error)
	FindEstablishmentsByIDs(ctx context.Context, ids []string) (map[string]models.Establishment, error)
}

// MongoEstablishmentCollection implements EstablishmentCollection for MongoDB.
type MongoEstablishmentCollection struct {
	Collection *mongo.Collection
}

// InsertEstablishment inserts a new establishment and returns its id.
func (c *MongoEstablishmentCollection) InsertEstablishment(ctx context.Context, e models.Establishment) (string, error) {
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now
	res, err := c.Collection.InsertOne(ctx, e)
	if err != nil {
		return "", err
	}
	oid, _ := res.InsertedID.(primitive.ObjectID)
	return oid.Hex(), nil
}

// FindEstablishmentByID finds an establishment by its id.
func (c *MongoEstablishmentCollection) FindEstablishmentByID(ctx context.Context, id string) (*models.Establishment, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var e models.Establishment
	err = c.Collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&e)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// FindEstablishments lists all establishments.
func (c *MongoEstablishmentCollection) FindEstablishments(ctx context.Context) ([]models.Establishment, error) {
	cursor, err := c.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var out []models.Establishment
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindEstablishmentsByIDs resolves a batch of ids for enrichment.
func (c *MongoEstablishmentCollection) FindEstablishmentsByIDs(ctx context.Context, ids []string) (map[string]models.Establishment, error) {
	objectIDs := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		objectIDs = append(objectIDs, oid)
	}
	result := make(map[string]models.Establishment, len(objectIDs))
	if len(objectIDs) == 0 {
		return result, nil
	}

	cursor, err := c.Collection.Find(ctx, bson.M{"_id": bson.M{"$in": objectIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var list []models.Establishment
	if err := cursor.All(ctx, &list); err != nil {
		return nil, err
	}
	for _, e := range list {
		result[e.ID.Hex()] = e
	}
	return result, nil
}
