package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/maestro/pkg/api"
)

// RedisExecutionStore is an ExecutionStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>exec:<id>               => gob-encoded redisExecutionPayload
//	<prefix>idx:all                 => SET of all execution IDs
//	<prefix>idx:wf:<workflowID>     => SET of execution IDs for a workflow
//	<prefix>idx:project:<projectID> => SET of execution IDs for a project
//	<prefix>idx:status:<status>     => SET of execution IDs for a status
//
// The indexes are best-effort; they are always updated on Save, and
// ListExecutions filters decoded payloads so stale index entries are
// harmless.
type RedisExecutionStore struct {
	client *redis.Client
	prefix string
}

var _ ExecutionStore = (*RedisExecutionStore)(nil)

type redisExecutionPayload struct {
	ID          string
	WorkflowID  string
	ProjectID   string
	Status      string
	CurrentStep int
	TotalSteps  int
	Steps       []byte
	Context     []byte
	ArtifactIDs []byte
	Error       string
	CreatedAt   int64
	StartedAt   int64
	CompletedAt int64
	UpdatedAt   int64
}

// NewRedisExecutionStore creates a RedisExecutionStore.
// prefix is optional but recommended (e.g. "maestro:").
func NewRedisExecutionStore(client *redis.Client, prefix string) *RedisExecutionStore {
	if prefix == "" {
		prefix = "maestro:"
	}
	return &RedisExecutionStore{client: client, prefix: prefix}
}

func (s *RedisExecutionStore) keyExecution(id string) string {
	return s.prefix + "exec:" + id
}

func (s *RedisExecutionStore) keyAll() string {
	return s.prefix + "idx:all"
}

func (s *RedisExecutionStore) keyWorkflow(id string) string {
	return s.prefix + "idx:wf:" + id
}

func (s *RedisExecutionStore) keyProject(id string) string {
	return s.prefix + "idx:project:" + id
}

func (s *RedisExecutionStore) keyStatus(status api.Status) string {
	return s.prefix + "idx:status:" + string(status)
}

func encodeRedisPayload(exec *api.WorkflowExecution) ([]byte, error) {
	steps, err := Encode(exec.Steps)
	if err != nil {
		return nil, err
	}
	contextBytes, err := Encode(exec.Context)
	if err != nil {
		return nil, err
	}
	artifacts, err := Encode(exec.ArtifactIDs)
	if err != nil {
		return nil, err
	}

	payload := redisExecutionPayload{
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
	}
	return Encode(payload)
}

func decodeRedisPayload(data []byte) (*api.WorkflowExecution, error) {
	if len(data) == 0 {
		return nil, ErrExecutionNotFound
	}
	payload, err := Decode[redisExecutionPayload](data)
	if err != nil {
		return nil, err
	}

	steps, err := Decode[[]api.StepExecution](payload.Steps)
	if err != nil {
		return nil, err
	}
	contextVal, err := Decode[map[string]any](payload.Context)
	if err != nil {
		return nil, err
	}
	artifacts, err := Decode[[]string](payload.ArtifactIDs)
	if err != nil {
		return nil, err
	}

	return &api.WorkflowExecution{
		ID:          payload.ID,
		WorkflowID:  payload.WorkflowID,
		ProjectID:   payload.ProjectID,
		Status:      api.Status(payload.Status),
		CurrentStep: payload.CurrentStep,
		TotalSteps:  payload.TotalSteps,
		Steps:       steps,
		Context:     contextVal,
		ArtifactIDs: artifacts,
		Error:       payload.Error,
		CreatedAt:   nanosToTime(payload.CreatedAt),
		StartedAt:   nanosToTime(payload.StartedAt),
		CompletedAt: nanosToTime(payload.CompletedAt),
		UpdatedAt:   nanosToTime(payload.UpdatedAt),
	}, nil
}

const redisOpTimeout = 5 * time.Second

func redisOpContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), redisOpTimeout)
}

func (s *RedisExecutionStore) SaveExecution(exec *api.WorkflowExecution) error {
	ctx, cancel := redisOpContext()
	defer cancel()

	data, err := encodeRedisPayload(exec)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyExecution(exec.ID), data, 0).Err(); err != nil {
		return err
	}

	// Index updates are best-effort; ListExecutions re-filters payloads.
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), exec.ID)
	pipe.SAdd(ctx, s.keyWorkflow(exec.WorkflowID), exec.ID)
	pipe.SAdd(ctx, s.keyProject(exec.ProjectID), exec.ID)
	pipe.SAdd(ctx, s.keyStatus(exec.Status), exec.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisExecutionStore) GetExecution(id string) (*api.WorkflowExecution, error) {
	ctx, cancel := redisOpContext()
	defer cancel()

	data, err := s.client.Get(ctx, s.keyExecution(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return decodeRedisPayload(data)
}

func (s *RedisExecutionStore) ListExecutions(filter ExecutionFilter) ([]*api.WorkflowExecution, error) {
	ctx, cancel := redisOpContext()
	defer cancel()

	keys := []string{s.keyAll()}
	if filter.WorkflowID != "" {
		keys = append(keys, s.keyWorkflow(filter.WorkflowID))
	}
	if filter.ProjectID != "" {
		keys = append(keys, s.keyProject(filter.ProjectID))
	}
	if filter.Status != "" {
		keys = append(keys, s.keyStatus(filter.Status))
	}

	var ids []string
	var err error
	if len(keys) == 1 {
		ids, err = s.client.SMembers(ctx, keys[0]).Result()
	} else {
		ids, err = s.client.SInter(ctx, keys...).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*api.WorkflowExecution{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.WorkflowExecution{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyExecution(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var executions []*api.WorkflowExecution
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		exec, err := decodeRedisPayload(data)
		if err != nil {
			return nil, err
		}
		// Stale status index entries are possible; re-check the payload.
		if !matchExecution(filter, exec) {
			continue
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

func (s *RedisExecutionStore) Stats(projectID string) (map[api.Status]int, error) {
	executions, err := s.ListExecutions(ExecutionFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	stats := make(map[api.Status]int)
	for _, exec := range executions {
		stats[exec.Status]++
	}
	return stats, nil
}
