package runtime

import (
	"fmt"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Scope is a read-only variable namespace consulted by resolvable values and
// predicates. References take the form "taskId.type.path.to.field"; overlay
// scopes additionally answer plain names such as "item.field".
type Scope interface {
	ResolvePath(ref string) (any, error)
}

// VariableContainer is the per-instance key space mapping (taskId, type) to a
// payload. Restored variables were hydrated from the persistent store; fresh
// variables were produced during the current execution pass and are buffered
// until the next flush.
type VariableContainer struct {
	restored map[VariableKey]any
	fresh    map[VariableKey]any
}

func NewVariableContainer() *VariableContainer {
	return &VariableContainer{
		restored: make(map[VariableKey]any),
		fresh:    make(map[VariableKey]any),
	}
}

// Put records a variable produced this pass.
func (c *VariableContainer) Put(taskID string, typ VariableType, payload any) {
	c.fresh[VariableKey{TaskID: taskID, Type: typ}] = payload
}

// PutVariable records a produced variable.
func (c *VariableContainer) PutVariable(v Variable) {
	c.fresh[v.Key()] = v.Payload
}

// Restore installs variables hydrated from the persistent store. Restored
// variables are not written back on flush.
func (c *VariableContainer) Restore(vars ...Variable) {
	for _, v := range vars {
		c.restored[v.Key()] = v.Payload
	}
}

// Get reads a variable payload, fresh values shadowing restored ones.
func (c *VariableContainer) Get(key VariableKey) (any, bool) {
	if v, ok := c.fresh[key]; ok {
		return v, true
	}
	v, ok := c.restored[key]
	return v, ok
}

// Has reports whether the container holds the key, fresh or restored.
func (c *VariableContainer) Has(key VariableKey) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes a key from both layers. Used by loops to clear STATE and
// TRANSIENT once the iterator is exhausted.
func (c *VariableContainer) Delete(taskID string, typ VariableType) {
	key := VariableKey{TaskID: taskID, Type: typ}
	delete(c.fresh, key)
	delete(c.restored, key)
}

// Flush drains the fresh layer into the restored layer and returns the durable
// variables that must be persisted. TRANSIENT variables are dropped from the
// result but stay readable in the container.
func (c *VariableContainer) Flush() []Variable {
	out := make([]Variable, 0, len(c.fresh))
	for key, payload := range c.fresh {
		c.restored[key] = payload
		if key.Type.Durable() {
			out = append(out, Variable{TaskID: key.TaskID, Type: key.Type, Payload: payload})
		}
	}
	c.fresh = make(map[VariableKey]any)
	return out
}

// Variables returns every durable variable currently held, fresh values
// shadowing restored ones. Used by the join coordinator to merge a completed
// branch back into its parent.
func (c *VariableContainer) Variables() []Variable {
	merged := make(map[VariableKey]any, len(c.restored)+len(c.fresh))
	for k, v := range c.restored {
		merged[k] = v
	}
	for k, v := range c.fresh {
		merged[k] = v
	}
	out := make([]Variable, 0, len(merged))
	for k, v := range merged {
		if k.Type.Durable() {
			out = append(out, Variable{TaskID: k.TaskID, Type: k.Type, Payload: v})
		}
	}
	return out
}

// ResolvePath implements Scope. The first segment is a task id, the second a
// variable type, the rest a structural path into the payload.
func (c *VariableContainer) ResolvePath(ref string) (any, error) {
	key, path, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}
	payload, ok := c.Get(key)
	if !ok {
		return nil, nil
	}
	return readPath(payload, path)
}

// SplitRef parses "taskId.type[.path]" into a container key and the residual
// structural path.
func SplitRef(ref string) (VariableKey, string, error) {
	parts := strings.SplitN(ref, ".", 3)
	if len(parts) < 2 {
		return VariableKey{}, "", fmt.Errorf("variable reference %q must be taskId.type[.path]", ref)
	}
	typ, ok := ParseVariableType(parts[1])
	if !ok {
		return VariableKey{}, "", fmt.Errorf("variable reference %q has unknown type segment %q", ref, parts[1])
	}
	path := ""
	if len(parts) == 3 {
		path = parts[2]
	}
	return VariableKey{TaskID: parts[0], Type: typ}, path, nil
}

// readPath reads a dotted structural path out of a payload. Numeric segments
// index into lists.
func readPath(payload any, path string) (any, error) {
	if path == "" {
		return payload, nil
	}
	hit := gabs.Wrap(payload).Path(path)
	if hit == nil {
		return nil, nil
	}
	return hit.Data(), nil
}

// overlayScope layers a single named binding over an outer scope. It is
// read-only and scoped to one evaluation call; the underlying container is
// never mutated while the overlay is active.
type overlayScope struct {
	name  string
	value any
	outer Scope
}

// NewOverlay returns a scope in which references starting with name resolve
// against value and everything else falls through to outer.
func NewOverlay(outer Scope, name string, value any) Scope {
	return overlayScope{name: name, value: value, outer: outer}
}

func (o overlayScope) ResolvePath(ref string) (any, error) {
	if ref == o.name {
		return o.value, nil
	}
	if strings.HasPrefix(ref, o.name+".") {
		return readPath(o.value, strings.TrimPrefix(ref, o.name+"."))
	}
	if o.outer == nil {
		return nil, fmt.Errorf("unresolvable reference %q", ref)
	}
	return o.outer.ResolvePath(ref)
}
