package tenantRepo

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

// MongoTenantRepo implements TenantRepository using MongoDB.
type MongoTenantRepo struct {
	coll *mongo.Collection
}

// NewMongoTenantRepo creates a new instance of TenantRepository using MongoDB.
func NewMongoTenantRepo() TenantRepository {
	coll := database.MongoClient.Database("tavolo").Collection("tenants")
	repo := &MongoTenantRepo{coll: coll}

	if err := repo.ensureIndexes(); err != nil {
		fmt.Printf("failed to create indexes: %v\n", err)
	}
	return repo
}

func (r *MongoTenantRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "whatsapp_phone_id", Value: 1}}},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by its unique id.
func (r *MongoTenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tenant models.Tenant
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&tenant); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch tenant with id %s: %w", id, err)
	}
	return &tenant, nil
}

// GetBySlug retrieves a tenant by its public slug.
func (r *MongoTenantRepo) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tenant models.Tenant
	if err := r.coll.FindOne(ctx, bson.M{"slug": slug}).Decode(&tenant); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch tenant %s: %w", slug, err)
	}
	return &tenant, nil
}

// GetByPhoneNumberID retrieves the tenant owning a WhatsApp phone number id.
func (r *MongoTenantRepo) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*models.Tenant, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tenant models.Tenant
	if err := r.coll.FindOne(ctx, bson.M{"whatsapp_phone_id": phoneNumberID}).Decode(&tenant); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch tenant for phone number id %s: %w", phoneNumberID, err)
	}
	return &tenant, nil
}
