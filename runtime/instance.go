package runtime

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProcessStatus is the persisted status of a process instance.
type ProcessStatus string

const (
	StatusContinue  ProcessStatus = "CONTINUE"
	StatusWait      ProcessStatus = "WAIT"
	StatusCompleted ProcessStatus = "COMPLETED"
	StatusFailed    ProcessStatus = "FAILED"
	StatusSuspended ProcessStatus = "SUSPENDED"
)

// ProcessFlowStatus describes how one execution pass or branch ended.
type ProcessFlowStatus string

const (
	FlowContinue  ProcessFlowStatus = "CONTINUE"
	FlowFailed    ProcessFlowStatus = "FAILED"
	FlowSuspended ProcessFlowStatus = "SUSPENDED"
	FlowCompleted ProcessFlowStatus = "COMPLETED"
)

// InstanceStatus maps a flow status onto the instance status it implies.
func (s ProcessFlowStatus) InstanceStatus() ProcessStatus {
	switch s {
	case FlowFailed:
		return StatusFailed
	case FlowSuspended:
		return StatusSuspended
	case FlowCompleted:
		return StatusCompleted
	default:
		return StatusContinue
	}
}

// ProcessInstance is one running (or suspended/completed) execution of a
// process definition. It is the unit of persistence: created at process,
// sub-process or fork start, mutated by every task execution step, removed on
// terminal cleanup.
type ProcessInstance struct {
	ID         string        `json:"id"`
	ProcessID  string        `json:"processId"`
	SnapshotID string        `json:"snapshotId"`
	Version    int           `json:"version"`
	Status     ProcessStatus `json:"status"`

	CurrTaskID  string `json:"currTaskId"`
	PrevTaskID  string `json:"prevTaskId,omitempty"`
	TaskCounter int    `json:"taskCounter"`

	StartTime     time.Time `json:"startTime"`
	CurrTaskStart time.Time `json:"currTaskStart"`

	// TerminateAtTaskID is set on forked branches to the join task id;
	// execution halts when the branch reaches it.
	TerminateAtTaskID string `json:"terminateAtTaskId,omitempty"`
	Concurrent        bool   `json:"concurrent,omitempty"`

	ParentID string `json:"parentId,omitempty"`
	RootID   string `json:"rootId,omitempty"`

	// ExecutionStrategy tags how lifecycle dispatch should schedule this
	// instance ("async" default, "inline" for CLI runs).
	ExecutionStrategy string `json:"executionStrategy,omitempty"`

	// OutcomeSinkID names the registered sink that receives the final
	// ProcessOutcome, if any.
	OutcomeSinkID string `json:"outcomeSinkId,omitempty"`

	// Variables and Env are not part of the persisted record: variables are
	// stored individually and hydrated on demand, Env is rebound at load time.
	Variables *VariableContainer `json:"-"`
	Env       *ProcessEnv        `json:"-"`
}

// NewProcessInstance creates a fresh root instance for a definition snapshot.
func NewProcessInstance(def *ProcessDefinition, env *ProcessEnv) *ProcessInstance {
	id := uuid.New().String()
	now := time.Now().UTC()
	return &ProcessInstance{
		ID:         id,
		ProcessID:  def.ID,
		SnapshotID: def.SnapshotID(),
		Version:    def.Version,
		Status:     StatusContinue,
		CurrTaskID: def.StartTaskID,
		StartTime:  now,
		RootID:     id,
		Variables:  NewVariableContainer(),
		Env:        env,
	}
}

// Root reports whether this instance is the root of its execution tree.
func (p *ProcessInstance) Root() bool {
	return p.ParentID == ""
}

// Services is the closed set of collaborators an execution pass may look up.
// Resolved once at env construction rather than through a type-keyed map.
type Services struct {
	Handlers *Registry
	Sinks    *SinkRegistry
}

// ProcessEnv carries the environment shared by every task of an instance:
// resolved properties, the triggering request context, a session scratch map
// and the service registry.
type ProcessEnv struct {
	Properties     map[string]any
	RequestContext map[string]any
	Session        map[string]any
	Services       *Services
}

// NewProcessEnv merges global and definition properties (definition overrides)
// and resolves ${VAR} / ${VAR:default} references against the environment.
func NewProcessEnv(globalProperties, defProperties map[string]any, services *Services) *ProcessEnv {
	env := &ProcessEnv{
		Properties:     make(map[string]any),
		RequestContext: make(map[string]any),
		Session:        make(map[string]any),
		Services:       services,
	}
	for k, v := range globalProperties {
		env.Properties[k] = resolveEnvVar(v)
	}
	for k, v := range defProperties {
		env.Properties[k] = resolveEnvVar(v)
	}
	return env
}

// envVarPattern matches ${VAR} and ${VAR:default} syntax
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// resolveEnvVar resolves environment variables in property values
func resolveEnvVar(value any) any {
	strValue, ok := value.(string)
	if !ok {
		return value
	}

	matches := envVarPattern.FindStringSubmatch(strValue)
	if matches == nil {
		return value
	}

	varName := matches[1]
	defaultPart := matches[2]

	envValue, exists := os.LookupEnv(varName)
	if exists {
		return envValue
	}

	if defaultPart != "" {
		return strings.TrimPrefix(defaultPart, ":")
	}

	panic(fmt.Sprintf("Required environment variable not set: %s", varName))
}
