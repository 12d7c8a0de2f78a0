package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"procflow/runtime"
)

// MemoryInstanceStore implements InstanceStore on process-local maps.
// Instances are stored as JSON so loads observe the same round-trip a remote
// store would produce.
type MemoryInstanceStore struct {
	mu        sync.Mutex
	instances map[string][]byte
	statuses  map[string]runtime.ProcessStatus
	children  map[string]map[string]struct{}
}

func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string][]byte),
		statuses:  make(map[string]runtime.ProcessStatus),
		children:  make(map[string]map[string]struct{}),
	}
}

func statusAllowed(current runtime.ProcessStatus, expected []runtime.ProcessStatus) bool {
	if len(expected) == 0 {
		return true
	}
	for _, e := range expected {
		if current == e {
			return true
		}
	}
	return false
}

func (s *MemoryInstanceStore) Save(ctx context.Context, inst *runtime.ProcessInstance, expected ...runtime.ProcessStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(inst, expected)
}

func (s *MemoryInstanceStore) saveLocked(inst *runtime.ProcessInstance, expected []runtime.ProcessStatus) error {
	if len(expected) > 0 {
		current, ok := s.statuses[inst.ID]
		if !ok || !statusAllowed(current, expected) {
			return fmt.Errorf("saving instance %s: %w", inst.ID, ErrStatusConflict)
		}
	}
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshalling instance %s: %w", inst.ID, err)
	}
	s.instances[inst.ID] = raw
	s.statuses[inst.ID] = inst.Status
	return nil
}

func (s *MemoryInstanceStore) SaveMany(ctx context.Context, insts []*runtime.ProcessInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range insts {
		if err := s.saveLocked(inst, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryInstanceStore) FindByID(ctx context.Context, id string, expected ...runtime.ProcessStatus) (*runtime.ProcessInstance, error) {
	s.mu.Lock()
	raw, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}

	var inst runtime.ProcessInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("unmarshalling instance %s: %w", id, err)
	}
	if !statusAllowed(inst.Status, expected) {
		return nil, fmt.Errorf("loading instance %s in status %s: %w", id, inst.Status, ErrStatusConflict)
	}
	inst.Variables = runtime.NewVariableContainer()
	return &inst, nil
}

func (s *MemoryInstanceStore) DeleteByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, id)
	delete(s.statuses, id)
	delete(s.children, id)
	return nil
}

func (s *MemoryInstanceStore) AddWaitingOnInstanceIDs(ctx context.Context, parentID string, childIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.children[parentID]
	if set == nil {
		set = make(map[string]struct{})
		s.children[parentID] = set
	}
	for _, id := range childIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (s *MemoryInstanceStore) RemoveCompletedInstanceID(ctx context.Context, parentID, childID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.children[parentID]
	if set == nil {
		return false, nil
	}
	if _, ok := set[childID]; !ok {
		return false, nil
	}
	delete(set, childID)
	return true, nil
}

func (s *MemoryInstanceStore) GetRemainingChildren(ctx context.Context, parentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.children[parentID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// MemoryVariableStore implements VariableStore on process-local maps.
type MemoryVariableStore struct {
	mu        sync.Mutex
	variables map[string][]byte // variable id -> JSON
	varIndex  map[string]map[string]struct{}
}

func NewMemoryVariableStore() *MemoryVariableStore {
	return &MemoryVariableStore{
		variables: make(map[string][]byte),
		varIndex:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryVariableStore) Save(ctx context.Context, instanceID string, v runtime.Variable) error {
	return s.SaveMany(ctx, instanceID, []runtime.Variable{v})
}

func (s *MemoryVariableStore) SaveMany(ctx context.Context, instanceID string, vars []runtime.Variable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.varIndex[instanceID]
	if idx == nil {
		idx = make(map[string]struct{})
		s.varIndex[instanceID] = idx
	}
	for _, v := range vars {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling variable %s: %w", v.Key(), err)
		}
		id := runtime.VariableID(instanceID, v.TaskID, v.Type)
		s.variables[id] = raw
		idx[id] = struct{}{}
	}
	return nil
}

func (s *MemoryVariableStore) FindByIDs(ctx context.Context, instanceID string, keys []runtime.VariableKey) (map[runtime.VariableKey]runtime.Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[runtime.VariableKey]runtime.Variable, len(keys))
	for _, key := range keys {
		raw, ok := s.variables[runtime.VariableID(instanceID, key.TaskID, key.Type)]
		if !ok {
			continue
		}
		var v runtime.Variable
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("unmarshalling variable %s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

func (s *MemoryVariableStore) FindForInstance(ctx context.Context, instanceID string) ([]runtime.Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []runtime.Variable
	for id := range s.varIndex[instanceID] {
		var v runtime.Variable
		if err := json.Unmarshal(s.variables[id], &v); err != nil {
			return nil, fmt.Errorf("unmarshalling variable %s: %w", id, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryVariableStore) DeleteProcessVariables(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.varIndex[instanceID] {
		delete(s.variables, id)
	}
	delete(s.varIndex, instanceID)
	return nil
}
