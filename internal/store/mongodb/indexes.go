package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the query indexes for the booking collections.
// Slot uniqueness comes from the claim collection's _id.
func (r *BookingRepo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	appointmentIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "physiotherapist_id", Value: 1}, {Key: "date", Value: 1}, {Key: "time_slot", Value: 1}},
			Options: options.Index().SetName("physiotherapist_date_slot_idx"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetName("user_date_idx"),
		},
	}
	if _, err := r.appointments.Indexes().CreateMany(ctx, appointmentIndexes); err != nil {
		return fmt.Errorf("failed to create appointment indexes: %w", err)
	}

	blockIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "physiotherapist_id", Value: 1}, {Key: "date", Value: 1}, {Key: "time_slot", Value: 1}},
			Options: options.Index().SetName("physiotherapist_date_slot_idx"),
		},
	}
	if _, err := r.blocks.Indexes().CreateMany(ctx, blockIndexes); err != nil {
		return fmt.Errorf("failed to create blocked slot indexes: %w", err)
	}

	claimIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "occupant_id", Value: 1}},
			Options: options.Index().SetName("occupant_idx"),
		},
	}
	if _, err := r.claims.Indexes().CreateMany(ctx, claimIndexes); err != nil {
		return fmt.Errorf("failed to create slot claim indexes: %w", err)
	}
	return nil
}
