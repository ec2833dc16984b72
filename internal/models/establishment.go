package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Establishment represents a site orders are raised against. The lifecycle core
// treats it as an opaque directory reference; it is only read for enrichment.
type Establishment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Address   string             `bson:"address,omitempty" json:"address,omitempty"`
	Sectors   []string           `bson:"sectors,omitempty" json:"sectors,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}
