// Package store defines the persistence contracts the orchestration core
// consumes, with an in-memory implementation and a Redis-backed one.
//
// Beyond basic CRUD the only extra guarantee an implementation must provide
// is that RemoveCompletedInstanceID is atomic and idempotent: exactly one
// concurrent caller observes the removal of a given child id.
package store

import (
	"context"
	"errors"

	"procflow/runtime"
)

// ErrNotFound is returned when an instance or variable id is unknown.
var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned by expected-status guarded operations when
// the stored status does not match. Callers treat this as a non-fatal race.
var ErrStatusConflict = errors.New("instance status conflict")

// InstanceStore persists process instances and the fork bookkeeping sets.
type InstanceStore interface {
	// Save persists the instance. With expected statuses given, the write
	// succeeds only if the stored status is one of them (optimistic,
	// save-if-status-equals); otherwise ErrStatusConflict.
	Save(ctx context.Context, inst *runtime.ProcessInstance, expected ...runtime.ProcessStatus) error

	// SaveMany persists a batch of instances. All or nothing: used by fork to
	// avoid partial fan-out.
	SaveMany(ctx context.Context, insts []*runtime.ProcessInstance) error

	// FindByID loads an instance. With expected statuses given, returns
	// ErrStatusConflict when the stored status is not one of them.
	FindByID(ctx context.Context, id string, expected ...runtime.ProcessStatus) (*runtime.ProcessInstance, error)

	DeleteByID(ctx context.Context, id string) error

	// AddWaitingOnInstanceIDs registers the full set of children a parent
	// waits on.
	AddWaitingOnInstanceIDs(ctx context.Context, parentID string, childIDs []string) error

	// RemoveCompletedInstanceID removes one child id from the parent's
	// waiting set. Atomic and idempotent: the boolean reports whether this
	// call performed the removal; a second call for the same id is a no-op
	// returning false.
	RemoveCompletedInstanceID(ctx context.Context, parentID, childID string) (bool, error)

	// GetRemainingChildren returns the child ids the parent still waits on.
	GetRemainingChildren(ctx context.Context, parentID string) ([]string, error)
}

// VariableStore persists durable variables under deterministic ids derived
// from (processInstanceId, taskId, type).
type VariableStore interface {
	Save(ctx context.Context, instanceID string, v runtime.Variable) error
	SaveMany(ctx context.Context, instanceID string, vars []runtime.Variable) error

	// FindByIDs batch-loads specific variables; missing keys are absent from
	// the result map rather than errors.
	FindByIDs(ctx context.Context, instanceID string, keys []runtime.VariableKey) (map[runtime.VariableKey]runtime.Variable, error)

	// FindForInstance loads every durable variable of the instance.
	FindForInstance(ctx context.Context, instanceID string) ([]runtime.Variable, error)

	DeleteProcessVariables(ctx context.Context, instanceID string) error
}
