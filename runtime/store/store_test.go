package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procflow/runtime"
)

type stores struct {
	instances InstanceStore
	variables VariableStore
}

func backends(t *testing.T) map[string]stores {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]stores{
		"memory": {NewMemoryInstanceStore(), NewMemoryVariableStore()},
		"redis":  {NewRedisInstanceStore(client), NewRedisVariableStore(client)},
	}
}

func newInstance(id string) *runtime.ProcessInstance {
	return &runtime.ProcessInstance{
		ID:         id,
		ProcessID:  "payment",
		SnapshotID: "payment:1",
		Version:    1,
		Status:     runtime.StatusContinue,
		CurrTaskID: "charge",
		RootID:     id,
		Variables:  runtime.NewVariableContainer(),
	}
}

func TestInstanceSaveAndFind(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			inst := newInstance("inst-1")
			require.NoError(t, s.instances.Save(ctx, inst))

			loaded, err := s.instances.FindByID(ctx, "inst-1")
			require.NoError(t, err)
			assert.Equal(t, "payment", loaded.ProcessID)
			assert.Equal(t, runtime.StatusContinue, loaded.Status)

			_, err = s.instances.FindByID(ctx, "ghost")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.instances.DeleteByID(ctx, "inst-1"))
			_, err = s.instances.FindByID(ctx, "inst-1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestInstanceExpectedStatus(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			inst := newInstance("inst-1")
			require.NoError(t, s.instances.Save(ctx, inst))

			// guarded save succeeds while the stored status matches
			inst.Status = runtime.StatusWait
			require.NoError(t, s.instances.Save(ctx, inst, runtime.StatusContinue))

			// and is rejected once it does not
			inst.Status = runtime.StatusFailed
			err := s.instances.Save(ctx, inst, runtime.StatusContinue)
			assert.ErrorIs(t, err, ErrStatusConflict)

			// the rejected write left the record untouched
			loaded, err := s.instances.FindByID(ctx, "inst-1", runtime.StatusWait)
			require.NoError(t, err)
			assert.Equal(t, runtime.StatusWait, loaded.Status)

			_, err = s.instances.FindByID(ctx, "inst-1", runtime.StatusContinue)
			assert.ErrorIs(t, err, ErrStatusConflict)
		})
	}
}

func TestSaveMany(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			batch := []*runtime.ProcessInstance{newInstance("a"), newInstance("b"), newInstance("c")}
			require.NoError(t, s.instances.SaveMany(ctx, batch))

			for _, inst := range batch {
				_, err := s.instances.FindByID(ctx, inst.ID)
				assert.NoError(t, err)
			}
		})
	}
}

func TestWaitingSetRemovalIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.instances.AddWaitingOnInstanceIDs(ctx, "parent", []string{"c1", "c2", "c3"}))

			removed, err := s.instances.RemoveCompletedInstanceID(ctx, "parent", "c2")
			require.NoError(t, err)
			assert.True(t, removed)

			// a second removal of the same id is a no-op
			removed, err = s.instances.RemoveCompletedInstanceID(ctx, "parent", "c2")
			require.NoError(t, err)
			assert.False(t, removed)

			remaining, err := s.instances.GetRemainingChildren(ctx, "parent")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"c1", "c3"}, remaining)
		})
	}
}

func TestWaitingSetRemovalUnderConcurrency(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ids := make([]string, 20)
			for i := range ids {
				ids[i] = fmt.Sprintf("c%d", i)
			}
			require.NoError(t, s.instances.AddWaitingOnInstanceIDs(ctx, "parent", ids))

			// every id is removed by many goroutines; exactly one per id must win
			var mu sync.Mutex
			var wg sync.WaitGroup
			wins := map[string]int{}
			for _, id := range ids {
				for g := 0; g < 4; g++ {
					wg.Add(1)
					go func(id string) {
						defer wg.Done()
						removed, err := s.instances.RemoveCompletedInstanceID(ctx, "parent", id)
						assert.NoError(t, err)
						if removed {
							mu.Lock()
							wins[id]++
							mu.Unlock()
						}
					}(id)
				}
			}
			wg.Wait()

			for _, id := range ids {
				assert.Equal(t, 1, wins[id], "id %s", id)
			}
			remaining, err := s.instances.GetRemainingChildren(ctx, "parent")
			require.NoError(t, err)
			assert.Empty(t, remaining)
		})
	}
}

func TestVariableStore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			vars := []runtime.Variable{
				{TaskID: "charge", Type: runtime.VariableOutput, Payload: map[string]any{"ok": true}},
				{TaskID: "charge", Type: runtime.VariableInput, Payload: map[string]any{"amount": float64(250)}},
				{TaskID: "loop", Type: runtime.VariableState, Payload: map[string]any{"index": float64(2)}},
			}
			require.NoError(t, s.variables.SaveMany(ctx, "inst-1", vars))
			require.NoError(t, s.variables.Save(ctx, "other", runtime.Variable{
				TaskID: "charge", Type: runtime.VariableOutput, Payload: "unrelated",
			}))

			found, err := s.variables.FindByIDs(ctx, "inst-1", []runtime.VariableKey{
				{TaskID: "charge", Type: runtime.VariableOutput},
				{TaskID: "ghost", Type: runtime.VariableOutput},
			})
			require.NoError(t, err)
			require.Len(t, found, 1)
			payload, ok := found[runtime.VariableKey{TaskID: "charge", Type: runtime.VariableOutput}].Payload.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, true, payload["ok"])

			all, err := s.variables.FindForInstance(ctx, "inst-1")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.variables.DeleteProcessVariables(ctx, "inst-1"))
			all, err = s.variables.FindForInstance(ctx, "inst-1")
			require.NoError(t, err)
			assert.Empty(t, all)

			// other instances are untouched
			otherVars, err := s.variables.FindForInstance(ctx, "other")
			require.NoError(t, err)
			assert.Len(t, otherVars, 1)
		})
	}
}
