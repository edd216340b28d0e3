package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Compile-time interface check.
var _ DocumentSink = (*MongoSink)(nil)

const transcriptionsCollection = "transcriptions"

// Transcription is the full per-call document: the dialog segments plus the
// pipeline timing log.
type Transcription struct {
	CallID      string                `bson:"call_id" json:"call_id"`
	Segments    []Segment             `bson:"segments" json:"segments"`
	PipelineLog []PipelineStep        `bson:"pipeline_log" json:"pipeline_log"`
	Metadata    TranscriptionMetadata `bson:"metadata" json:"metadata"`
	StartedAt   time.Time             `bson:"started_at" json:"started_at"`
	UpdatedAt   time.Time             `bson:"updated_at" json:"updated_at"`
}

// TranscriptionMetadata aggregates per-call totals.
type TranscriptionMetadata struct {
	Language        string `bson:"language" json:"language"`
	TotalDurationMS int    `bson:"total_duration_ms" json:"total_duration_ms"`
	TurnsCount      int    `bson:"turns_count" json:"turns_count"`
}

// MongoSink stores one transcription document per call.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoSink connects to the deployment at uri and prepares the
// transcriptions collection in the named database.
func NewMongoSink(ctx context.Context, uri, database string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo sink: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo sink: ping: %w", err)
	}

	coll := client.Database(database).Collection(transcriptionsCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "call_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "metadata.language", Value: 1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo sink: create indexes: %w", err)
	}
	return &MongoSink{client: client, coll: coll}, nil
}

// CreateTranscription seeds the empty document for a call and implements
// DocumentSink.
func (s *MongoSink) CreateTranscription(ctx context.Context, callID, language string) error {
	now := time.Now().UTC()
	doc := Transcription{
		CallID:      callID,
		Segments:    []Segment{},
		PipelineLog: []PipelineStep{},
		Metadata:    TranscriptionMetadata{Language: language},
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("mongo sink: create transcription %s: %w", callID, err)
	}
	return nil
}

// AddSegment appends one dialog segment and bumps the turn counter.
// Implements DocumentSink.
func (s *MongoSink) AddSegment(ctx context.Context, callID string, seg Segment) error {
	if seg.Timestamp.IsZero() {
		seg.Timestamp = time.Now().UTC()
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{
			"$push": bson.M{"segments": seg},
			"$inc":  bson.M{"metadata.turns_count": 1},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("mongo sink: add segment %s: %w", callID, err)
	}
	return nil
}

// AddPipelineStep appends one stage timing entry. Implements DocumentSink.
func (s *MongoSink) AddPipelineStep(ctx context.Context, callID string, step PipelineStep) error {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{
			"$push": bson.M{"pipeline_log": step},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("mongo sink: add pipeline step %s: %w", callID, err)
	}
	return nil
}

// FinishTranscription records the total call duration. Implements DocumentSink.
func (s *MongoSink) FinishTranscription(ctx context.Context, callID string, totalMS int) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"call_id": callID},
		bson.M{"$set": bson.M{
			"metadata.total_duration_ms": totalMS,
			"updated_at":                 time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo sink: finish transcription %s: %w", callID, err)
	}
	return nil
}

// GetTranscription fetches the full document for a call.
func (s *MongoSink) GetTranscription(ctx context.Context, callID string) (Transcription, error) {
	var t Transcription
	err := s.coll.FindOne(ctx, bson.M{"call_id": callID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Transcription{}, ErrNotFound
	}
	if err != nil {
		return Transcription{}, fmt.Errorf("mongo sink: get transcription %s: %w", callID, err)
	}
	return t, nil
}

// ListTranscriptions pages through documents without their segment bodies,
// most recent first.
func (s *MongoSink) ListTranscriptions(ctx context.Context, limit, offset int) ([]Transcription, error) {
	opts := options.Find().
		SetProjection(bson.M{"segments": 0, "pipeline_log": 0}).
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo sink: list transcriptions: %w", err)
	}
	var out []Transcription
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo sink: list transcriptions: %w", err)
	}
	return out, nil
}

// SearchSegments returns transcriptions whose dialog contains the query,
// matched case-insensitively.
func (s *MongoSink) SearchSegments(ctx context.Context, query string, limit int) ([]Transcription, error) {
	filter := bson.M{"segments.text": bson.M{"$regex": query, "$options": "i"}}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo sink: search segments: %w", err)
	}
	var out []Transcription
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo sink: search segments: %w", err)
	}
	return out, nil
}

// Ping verifies the client can still reach the deployment. Used by the
// readiness probe.
func (s *MongoSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from the deployment. Implements DocumentSink.
func (s *MongoSink) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo sink: disconnect: %w", err)
	}
	return nil
}
