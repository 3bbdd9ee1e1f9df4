package processedRepo

import (
	"context"
	"fmt"
	"time"

	"tavolo/database"
	"tavolo/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProcessedMessageRepo implements ProcessedMessageRepository using MongoDB.
type MongoProcessedMessageRepo struct {
	coll *mongo.Collection
}

// NewMongoProcessedMessageRepo creates a new instance of
// ProcessedMessageRepository using MongoDB.
func NewMongoProcessedMessageRepo() ProcessedMessageRepository {
	coll := database.MongoClient.Database("tavolo").Collection("processed_messages")
	repo := &MongoProcessedMessageRepo{coll: coll}

	if err := repo.ensureIndexes(); err != nil {
		fmt.Printf("failed to create indexes: %v\n", err)
	}
	return repo
}

// ensureIndexes creates the uniqueness constraint the guard relies on.
func (r *MongoProcessedMessageRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "provider", Value: 1},
				{Key: "message_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// MarkProcessed records the message id; a duplicate key error means the
// message was handled before.
func (r *MongoProcessedMessageRepo) MarkProcessed(ctx context.Context, tenantID, provider, messageID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	record := models.ProcessedMessage{
		TenantID:    tenantID,
		Provider:    provider,
		MessageID:   messageID,
		ProcessedAt: time.Now(),
	}
	if _, err := r.coll.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to record processed message: %w", err)
	}
	return nil
}
