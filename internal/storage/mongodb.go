package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BrikPay/refunds-service/internal/config"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/refund"
)

// MongoStore implements refund.Repository on MongoDB.
type MongoStore struct {
	client    *mongo.Client
	refunds   *mongo.Collection
	opTimeout time.Duration
}

// NewMongoStore connects to MongoDB and prepares the refunds collection.
func NewMongoStore(cfg config.StorageConfig) (*MongoStore, error) {
	connectTimeout := cfg.ConnectTimeout.Duration
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect errors during failed initialization are not
		// actionable; the connection failure is the real story.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store := &MongoStore{
		client:    client,
		refunds:   client.Database(cfg.MongoDatabase).Collection("refund_requests"),
		opTimeout: cfg.OperationTimeout.Duration,
	}
	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	// _id is unique automatically; the rest serve FindByMerchant and Search.
	_, err := s.refunds.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "merchantId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "transactionId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create refund indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.opTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Create inserts a new refund. Duplicate IDs are rejected.
func (s *MongoStore) Create(ctx context.Context, r *refund.Refund) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.refunds.InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return errors.NewBusinessError(errors.ErrCodeDuplicateRefund,
			"refund "+r.ID+" already exists", "use a fresh refund ID")
	}
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// Update replaces the stored document for r.ID.
func (s *MongoStore) Update(ctx context.Context, r *refund.Refund) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.refunds.ReplaceOne(ctx, bson.M{"_id": r.ID}, r)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if res.MatchedCount == 0 {
		return refund.NotFoundError(r.ID)
	}
	return nil
}

// FindByID retrieves one refund by its ID.
func (s *MongoStore) FindByID(ctx context.Context, id string) (*refund.Refund, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r refund.Refund
	err := s.refunds.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, refund.NotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("find refund: %w", err)
	}
	return &r, nil
}

// FindByMerchant pages through a merchant's refunds, newest first.
func (s *MongoStore) FindByMerchant(ctx context.Context, merchantID string, page refund.Page) ([]*refund.Refund, error) {
	return s.Search(ctx, refund.Query{MerchantID: merchantID}, page)
}

// Search filters refunds by the query criteria, newest first.
func (s *MongoStore) Search(ctx context.Context, q refund.Query, page refund.Page) ([]*refund.Refund, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{}
	if q.MerchantID != "" {
		filter["merchantId"] = q.MerchantID
	}
	if q.TransactionID != "" {
		filter["transactionId"] = q.TransactionID
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if q.Method != "" {
		filter["method"] = q.Method
	}
	if q.CreatedAfter != nil || q.CreatedBefore != nil {
		created := bson.M{}
		if q.CreatedAfter != nil {
			created["$gte"] = *q.CreatedAfter
		}
		if q.CreatedBefore != nil {
			created["$lte"] = *q.CreatedBefore
		}
		filter["createdAt"] = created
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if page.Offset > 0 {
		opts.SetSkip(int64(page.Offset))
	}
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	cur, err := s.refunds.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("search refunds: %w", err)
	}
	defer cur.Close(ctx)

	var out []*refund.Refund
	for cur.Next(ctx) {
		var r refund.Refund
		if err := cur.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode refund: %w", err)
		}
		out = append(out, &r)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}
	return out, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
