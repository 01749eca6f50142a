package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/maestro/pkg/api"
)

// MongoExecutionStore is an ExecutionStore backed by MongoDB.
type MongoExecutionStore struct {
	coll *mongo.Collection
}

var _ ExecutionStore = (*MongoExecutionStore)(nil)

// NewMongoExecutionStore creates a Mongo-backed execution store.
// dbName defaults to "maestro" if empty, collName defaults to "executions".
func NewMongoExecutionStore(client *mongo.Client, dbName, collName string) *MongoExecutionStore {
	if dbName == "" {
		dbName = "maestro"
	}
	if collName == "" {
		collName = "executions"
	}
	return &MongoExecutionStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

// mongoExecutionDoc flattens timestamps to int64 nanos: BSON datetimes are
// millisecond precision, which would break round-trip fidelity.
type mongoExecutionDoc struct {
	ID          string `bson:"_id"`
	WorkflowID  string `bson:"workflow_id"`
	ProjectID   string `bson:"project_id"`
	Status      string `bson:"status"`
	CurrentStep int    `bson:"current_step"`
	TotalSteps  int    `bson:"total_steps"`
	Steps       []byte `bson:"steps,omitempty"`
	Context     []byte `bson:"context,omitempty"`
	ArtifactIDs []byte `bson:"artifact_ids,omitempty"`
	Error       string `bson:"error,omitempty"`
	CreatedAt   int64  `bson:"created_at"`
	StartedAt   int64  `bson:"started_at"`
	CompletedAt int64  `bson:"completed_at"`
	UpdatedAt   int64  `bson:"updated_at"`
}

const mongoOpTimeout = 5 * time.Second

func mongoOpContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), mongoOpTimeout)
}

func encodeMongoDoc(exec *api.WorkflowExecution) (mongoExecutionDoc, error) {
	steps, err := Encode(exec.Steps)
	if err != nil {
		return mongoExecutionDoc{}, err
	}
	contextBytes, err := Encode(exec.Context)
	if err != nil {
		return mongoExecutionDoc{}, err
	}
	artifacts, err := Encode(exec.ArtifactIDs)
	if err != nil {
		return mongoExecutionDoc{}, err
	}

	return mongoExecutionDoc{
		ID:          exec.ID,
		WorkflowID:  exec.WorkflowID,
		ProjectID:   exec.ProjectID,
		Status:      string(exec.Status),
		CurrentStep: exec.CurrentStep,
		TotalSteps:  exec.TotalSteps,
		Steps:       steps,
		Context:     contextBytes,
		ArtifactIDs: artifacts,
		Error:       exec.Error,
		CreatedAt:   timeToNanos(exec.CreatedAt),
		StartedAt:   timeToNanos(exec.StartedAt),
		CompletedAt: timeToNanos(exec.CompletedAt),
		UpdatedAt:   timeToNanos(exec.UpdatedAt),
	}, nil
}

func decodeMongoDoc(doc mongoExecutionDoc) (*api.WorkflowExecution, error) {
	steps, err := Decode[[]api.StepExecution](doc.Steps)
	if err != nil {
		return nil, err
	}
	contextVal, err := Decode[map[string]any](doc.Context)
	if err != nil {
		return nil, err
	}
	artifacts, err := Decode[[]string](doc.ArtifactIDs)
	if err != nil {
		return nil, err
	}

	return &api.WorkflowExecution{
		ID:          doc.ID,
		WorkflowID:  doc.WorkflowID,
		ProjectID:   doc.ProjectID,
		Status:      api.Status(doc.Status),
		CurrentStep: doc.CurrentStep,
		TotalSteps:  doc.TotalSteps,
		Steps:       steps,
		Context:     contextVal,
		ArtifactIDs: artifacts,
		Error:       doc.Error,
		CreatedAt:   nanosToTime(doc.CreatedAt),
		StartedAt:   nanosToTime(doc.StartedAt),
		CompletedAt: nanosToTime(doc.CompletedAt),
		UpdatedAt:   nanosToTime(doc.UpdatedAt),
	}, nil
}

func (s *MongoExecutionStore) SaveExecution(exec *api.WorkflowExecution) error {
	ctx, cancel := mongoOpContext()
	defer cancel()

	doc, err := encodeMongoDoc(exec)
	if err != nil {
		return err
	}

	_, err = s.coll.ReplaceOne(ctx,
		bson.M{"_id": exec.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoExecutionStore) GetExecution(id string) (*api.WorkflowExecution, error) {
	ctx, cancel := mongoOpContext()
	defer cancel()

	var doc mongoExecutionDoc
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return decodeMongoDoc(doc)
}

func (s *MongoExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.WorkflowExecution, error) {
	ctx, cancel := mongoOpContext()
	defer cancel()

	query := bson.M{}
	if filter.WorkflowID != "" {
		query["workflow_id"] = filter.WorkflowID
	}
	if filter.ProjectID != "" {
		query["project_id"] = filter.ProjectID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	cur, err := s.coll.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var executions []*api.WorkflowExecution
	for cur.Next(ctx) {
		var doc mongoExecutionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		exec, err := decodeMongoDoc(doc)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	return executions, cur.Err()
}

func (s *MongoExecutionStore) Stats(projectID string) (map[api.Status]int, error) {
	ctx, cancel := mongoOpContext()
	defer cancel()

	match := bson.M{}
	if projectID != "" {
		match["project_id"] = projectID
	}

	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	stats := make(map[api.Status]int)
	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		stats[api.Status(row.Status)] = row.Count
	}
	return stats, cur.Err()
}
