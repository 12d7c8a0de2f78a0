package runtime

import "fmt"

// ProcessTaskID is the synthetic task id the process start payload is stored
// under, referenced in templates as ${process.input.<field>}.
const ProcessTaskID = "process"

// VariableType classifies a piece of per-task data.
type VariableType string

const (
	VariableInput  VariableType = "INPUT"
	VariableOutput VariableType = "OUTPUT"
	VariableError  VariableType = "ERROR"
	VariableState  VariableType = "STATE"
	// VariableTransient exists only in the in-memory container of the current
	// execution pass (e.g. a live iterator) and is never persisted.
	VariableTransient VariableType = "TRANSIENT"
)

// Durable reports whether variables of this type are written to the store.
func (t VariableType) Durable() bool {
	return t != VariableTransient
}

// ParseVariableType maps a path segment ("output", "OUTPUT") to a type.
func ParseVariableType(s string) (VariableType, bool) {
	switch s {
	case "input", "INPUT":
		return VariableInput, true
	case "output", "OUTPUT":
		return VariableOutput, true
	case "error", "ERROR":
		return VariableError, true
	case "state", "STATE":
		return VariableState, true
	case "transient", "TRANSIENT":
		return VariableTransient, true
	}
	return "", false
}

// VariableKey addresses one variable inside an instance's key space.
type VariableKey struct {
	TaskID string
	Type   VariableType
}

func (k VariableKey) String() string {
	return k.TaskID + "." + string(k.Type)
}

// Variable is a (taskId, type, payload) triple.
type Variable struct {
	TaskID  string       `json:"taskId"`
	Type    VariableType `json:"type"`
	Payload any          `json:"payload"`
}

// Key returns the container key of the variable.
func (v Variable) Key() VariableKey {
	return VariableKey{TaskID: v.TaskID, Type: v.Type}
}

// VariableID derives the deterministic store id of a durable variable.
func VariableID(instanceID, taskID string, typ VariableType) string {
	return fmt.Sprintf("%s:%s:%s", instanceID, taskID, typ)
}
