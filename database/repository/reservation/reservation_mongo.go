package reservationRepo

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

// MongoReservationRepo implements ReservationRepository using MongoDB.
type MongoReservationRepo struct {
	coll *mongo.Collection
}

// NewMongoReservationRepo creates a new instance of ReservationRepository using MongoDB.
func NewMongoReservationRepo() ReservationRepository {
	coll := database.MongoClient.Database("tavolo").Collection("reservations")
	repo := &MongoReservationRepo{coll: coll}

	if err := repo.ensureIndexes(); err != nil {
		fmt.Printf("failed to create indexes: %v\n", err)
	}
	return repo
}

// newContext creates a context with the given timeout.
func newContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// Create persists a new reservation record.
func (r *MongoReservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, res); err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	return nil
}

// CreateIfCapacityHolds re-checks the overlap sum and inserts the reservation
// inside a single Mongo session transaction. Two customers racing for the last
// seats serialize here: the loser observes the winner's insert and gets
// ErrCapacityConflict.
func (r *MongoReservationRepo) CreateIfCapacityHolds(ctx context.Context, res *models.Reservation, capacity int) error {
	client := r.coll.Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnFn := func(sc mongo.SessionContext) error {
		taken, err := r.sumOverlapping(sc, res.TenantID, res.StartAt, res.EndAt)
		if err != nil {
			return err
		}
		if taken+res.People > capacity {
			return ErrCapacityConflict
		}

		now := time.Now()
		res.CreatedAt = now
		res.UpdatedAt = now
		if _, err := r.coll.InsertOne(sc, res); err != nil {
			return fmt.Errorf("insert reservation failed: %w", err)
		}
		return nil
	}

	if err := mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := txnFn(sc); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	}); err != nil {
		if err == ErrCapacityConflict {
			return err
		}
		return fmt.Errorf("reservation transaction failed: %w", err)
	}

	return nil
}

// GetByID retrieves a reservation scoped to a tenant and customer.
func (r *MongoReservationRepo) GetByID(ctx context.Context, tenantID, phone, id string) (*models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": id, "tenant_id": tenantID, "customer_phone": phone}
	var res models.Reservation
	if err := r.coll.FindOne(ctx, filter).Decode(&res); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch reservation %s: %w", id, err)
	}
	return &res, nil
}

// UpdateStatus flips the status of a reservation.
func (r *MongoReservationRepo) UpdateStatus(ctx context.Context, tenantID, id, status string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": id, "tenant_id": tenantID}
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update reservation %s status: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("reservation with id %s not found", id)
	}
	return nil
}

// UpdateTimes rewrites start/end, party size and notes of a reservation.
func (r *MongoReservationRepo) UpdateTimes(ctx context.Context, tenantID, id string, start, end time.Time, people int, notes string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"id": id, "tenant_id": tenantID}
	update := bson.M{"$set": bson.M{
		"start_at":   start,
		"end_at":     end,
		"people":     people,
		"notes":      notes,
		"updated_at": time.Now(),
	}}

	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update reservation %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("reservation with id %s not found", id)
	}
	return nil
}

// ListUpcoming returns the customer's confirmed future reservations in
// chronological order.
func (r *MongoReservationRepo) ListUpcoming(ctx context.Context, tenantID, phone string, from time.Time) ([]models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"tenant_id":      tenantID,
		"customer_phone": phone,
		"status":         models.ReservationConfirmed,
		"start_at":       bson.M{"$gte": from},
	}
	opts := options.Find().SetSort(bson.D{{Key: "start_at", Value: 1}})

	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer cursor.Close(ctx)

	var reservations []models.Reservation
	if err := cursor.All(ctx, &reservations); err != nil {
		return nil, fmt.Errorf("failed to decode reservations: %w", err)
	}
	return reservations, nil
}

// SumOverlappingPeople aggregates party sizes of pending and confirmed
// reservations whose interval intersects [start, end).
func (r *MongoReservationRepo) SumOverlappingPeople(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.sumOverlapping(ctx, tenantID, start, end)
}

func (r *MongoReservationRepo) sumOverlapping(ctx context.Context, tenantID string, start, end time.Time) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenant_id": tenantID,
			"status":    bson.M{"$in": []string{models.ReservationPending, models.ReservationConfirmed}},
			"start_at":  bson.M{"$lt": end},
			"end_at":    bson.M{"$gt": start},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"total": bson.M{"$sum": "$people"},
		}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("aggregation error: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total int `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, fmt.Errorf("error decoding aggregation result: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Total, nil
}

// CountOverlappingForCustomer counts the customer's own active reservations
// intersecting [start, end).
func (r *MongoReservationRepo) CountOverlappingForCustomer(ctx context.Context, tenantID, phone string, start, end time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"tenant_id":      tenantID,
		"customer_phone": phone,
		"status":         bson.M{"$in": []string{models.ReservationPending, models.ReservationConfirmed}},
		"start_at":       bson.M{"$lt": end},
		"end_at":         bson.M{"$gt": start},
	}
	count, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count overlapping reservations: %w", err)
	}
	return int(count), nil
}
