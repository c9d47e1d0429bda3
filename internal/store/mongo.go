package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

// ReportStore keeps finished reports in MongoDB.
type ReportStore struct {
	col *mongo.Collection
}

func NewReportStore(db *mongo.Database) *ReportStore {
	return &ReportStore{col: db.Collection("reports")}
}

func (s *ReportStore) Insert(ctx context.Context, doc *models.ReportDocument) (string, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	res, err := s.col.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("mongo insert: %w", err)
	}
	oid := res.InsertedID.(primitive.ObjectID)
	doc.ID = oid
	return oid.Hex(), nil
}

// ListByUser returns a user's reports, newest first, without section bodies.
func (s *ReportStore) ListByUser(ctx context.Context, userID string) ([]models.ReportDocument, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"sections": 0, "markdown": 0})
	cur, err := s.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	defer cur.Close(ctx)

	docs := []models.ReportDocument{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode: %w", err)
	}
	return docs, nil
}

// GetByID loads a report owned by userID.
func (s *ReportStore) GetByID(ctx context.Context, userID, id string) (*models.ReportDocument, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var doc models.ReportDocument
	err = s.col.FindOne(ctx, bson.M{"_id": oid, "user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find one: %w", err)
	}
	return &doc, nil
}

// Delete removes a report owned by userID.
func (s *ReportStore) Delete(ctx context.Context, userID, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": oid, "user_id": userID})
	if err != nil {
		return fmt.Errorf("mongo delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
