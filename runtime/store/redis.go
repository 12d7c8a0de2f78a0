package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"procflow/runtime"
)

const (
	instanceKeyPrefix = "procflow:instance:"
	childrenKeyPrefix = "procflow:children:"
	variableKeyPrefix = "procflow:var:"
	varIndexKeyPrefix = "procflow:vars:"
)

// saveIfStatusScript implements the expected-status guarded save: the write
// succeeds only if the stored status is one of ARGV[3..]. An absent instance
// fails the guard, since an expected-status save implies prior existence.
var saveIfStatusScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if #ARGV > 2 then
  if not cur then return 0 end
  local ok = false
  for i = 3, #ARGV do
    if cur == ARGV[i] then ok = true end
  end
  if not ok then return 0 end
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'status', ARGV[2])
return 1
`)

// RedisInstanceStore implements InstanceStore on a Redis hash per instance
// plus a set per parent for fork bookkeeping. SREM provides the atomic,
// idempotent child removal the join protocol relies on.
type RedisInstanceStore struct {
	client redis.UniversalClient
}

func NewRedisInstanceStore(client redis.UniversalClient) *RedisInstanceStore {
	return &RedisInstanceStore{client: client}
}

func instanceKey(id string) string { return instanceKeyPrefix + id }
func childrenKey(id string) string { return childrenKeyPrefix + id }

func (s *RedisInstanceStore) Save(ctx context.Context, inst *runtime.ProcessInstance, expected ...runtime.ProcessStatus) error {
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshalling instance %s: %w", inst.ID, err)
	}

	args := []any{string(raw), string(inst.Status)}
	for _, e := range expected {
		args = append(args, string(e))
	}

	ok, err := saveIfStatusScript.Run(ctx, s.client, []string{instanceKey(inst.ID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("saving instance %s: %w", inst.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("saving instance %s: %w", inst.ID, ErrStatusConflict)
	}
	return nil
}

func (s *RedisInstanceStore) SaveMany(ctx context.Context, insts []*runtime.ProcessInstance) error {
	pipe := s.client.TxPipeline()
	for _, inst := range insts {
		raw, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("marshalling instance %s: %w", inst.ID, err)
		}
		pipe.HSet(ctx, instanceKey(inst.ID), "data", string(raw), "status", string(inst.Status))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving instance batch: %w", err)
	}
	return nil
}

func (s *RedisInstanceStore) FindByID(ctx context.Context, id string, expected ...runtime.ProcessStatus) (*runtime.ProcessInstance, error) {
	raw, err := s.client.HGet(ctx, instanceKey(id), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading instance %s: %w", id, err)
	}

	var inst runtime.ProcessInstance
	if err := json.Unmarshal([]byte(raw), &inst); err != nil {
		return nil, fmt.Errorf("unmarshalling instance %s: %w", id, err)
	}
	if !statusAllowed(inst.Status, expected) {
		return nil, fmt.Errorf("loading instance %s in status %s: %w", id, inst.Status, ErrStatusConflict)
	}
	inst.Variables = runtime.NewVariableContainer()
	return &inst, nil
}

func (s *RedisInstanceStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, instanceKey(id), childrenKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting instance %s: %w", id, err)
	}
	return nil
}

func (s *RedisInstanceStore) AddWaitingOnInstanceIDs(ctx context.Context, parentID string, childIDs []string) error {
	members := make([]any, len(childIDs))
	for i, id := range childIDs {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, childrenKey(parentID), members...).Err(); err != nil {
		return fmt.Errorf("registering children of %s: %w", parentID, err)
	}
	return nil
}

func (s *RedisInstanceStore) RemoveCompletedInstanceID(ctx context.Context, parentID, childID string) (bool, error) {
	removed, err := s.client.SRem(ctx, childrenKey(parentID), childID).Result()
	if err != nil {
		return false, fmt.Errorf("removing child %s of %s: %w", childID, parentID, err)
	}
	return removed == 1, nil
}

func (s *RedisInstanceStore) GetRemainingChildren(ctx context.Context, parentID string) ([]string, error) {
	members, err := s.client.SMembers(ctx, childrenKey(parentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading children of %s: %w", parentID, err)
	}
	return members, nil
}

// RedisVariableStore implements VariableStore: one string key per variable
// under its deterministic id, plus a per-instance index set for cleanup.
type RedisVariableStore struct {
	client redis.UniversalClient
}

func NewRedisVariableStore(client redis.UniversalClient) *RedisVariableStore {
	return &RedisVariableStore{client: client}
}

func variableKey(id string) string { return variableKeyPrefix + id }
func varIndexKey(id string) string { return varIndexKeyPrefix + id }

func (s *RedisVariableStore) Save(ctx context.Context, instanceID string, v runtime.Variable) error {
	return s.SaveMany(ctx, instanceID, []runtime.Variable{v})
}

func (s *RedisVariableStore) SaveMany(ctx context.Context, instanceID string, vars []runtime.Variable) error {
	if len(vars) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, v := range vars {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling variable %s: %w", v.Key(), err)
		}
		id := runtime.VariableID(instanceID, v.TaskID, v.Type)
		pipe.Set(ctx, variableKey(id), string(raw), 0)
		pipe.SAdd(ctx, varIndexKey(instanceID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving variables of %s: %w", instanceID, err)
	}
	return nil
}

func (s *RedisVariableStore) FindByIDs(ctx context.Context, instanceID string, keys []runtime.VariableKey) (map[runtime.VariableKey]runtime.Variable, error) {
	if len(keys) == 0 {
		return map[runtime.VariableKey]runtime.Variable{}, nil
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = variableKey(runtime.VariableID(instanceID, key.TaskID, key.Type))
	}

	raws, err := s.client.MGet(ctx, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading variables of %s: %w", instanceID, err)
	}

	out := make(map[runtime.VariableKey]runtime.Variable, len(keys))
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue // missing key
		}
		var v runtime.Variable
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("unmarshalling variable %s: %w", keys[i], err)
		}
		out[keys[i]] = v
	}
	return out, nil
}

func (s *RedisVariableStore) FindForInstance(ctx context.Context, instanceID string) ([]runtime.Variable, error) {
	ids, err := s.client.SMembers(ctx, varIndexKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading variable index of %s: %w", instanceID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = variableKey(id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading variables of %s: %w", instanceID, err)
	}

	var out []runtime.Variable
	for i, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var v runtime.Variable
		if err := json.Unmarshal([]byte(str), &v); err != nil {
			return nil, fmt.Errorf("unmarshalling variable %s: %w", ids[i], err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *RedisVariableStore) DeleteProcessVariables(ctx context.Context, instanceID string) error {
	ids, err := s.client.SMembers(ctx, varIndexKey(instanceID)).Result()
	if err != nil {
		return fmt.Errorf("reading variable index of %s: %w", instanceID, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, variableKey(id))
	}
	keys = append(keys, varIndexKey(instanceID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting variables of %s: %w", instanceID, err)
	}
	return nil
}
