package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Operator identifies the behavior bound to a task.
type Operator string

const (
	OperatorTask        Operator = "TASK"
	OperatorConditional Operator = "CONDITIONAL"
	OperatorLoop        Operator = "LOOP"
	OperatorBreak       Operator = "BREAK"
	OperatorContinue    Operator = "CONTINUE"
	OperatorFork        Operator = "FORK"
	OperatorJoin        Operator = "JOIN"
	OperatorReturn      Operator = "RETURN"
	OperatorSubProcess  Operator = "SUBPROCESS"
)

func (o Operator) valid() bool {
	switch o {
	case OperatorTask, OperatorConditional, OperatorLoop, OperatorBreak,
		OperatorContinue, OperatorFork, OperatorJoin, OperatorReturn,
		OperatorSubProcess:
		return true
	}
	return false
}

// TransitionType classifies an outgoing edge of a task.
type TransitionType string

const (
	// TransitionDefault is the unconditional fallback edge. At most one per task.
	TransitionDefault TransitionType = "DEFAULT"
	// TransitionConditional edges are evaluated in declared order; first match wins.
	TransitionConditional TransitionType = "CONDITIONAL"
	// TransitionError edges are evaluated in declared order against a failure payload.
	TransitionError TransitionType = "ERROR"
)

// Transition is a directed edge from one task to the next candidate task.
type Transition struct {
	Type         TransitionType `yaml:"type" json:"type"`
	TargetTaskID string         `yaml:"target" json:"target"`
	Predicate    string         `yaml:"predicate,omitempty" json:"predicate,omitempty"`
}

// TaskDefinition is the immutable description of one task in a process graph.
type TaskDefinition struct {
	ID            string         `yaml:"id" json:"id"`
	ScopeID       string         `yaml:"scope,omitempty" json:"scope,omitempty"`
	Operator      Operator       `yaml:"operator" json:"operator"`
	Handler       string         `yaml:"handler,omitempty" json:"handler,omitempty"`
	Input         map[string]any `yaml:"input,omitempty" json:"input,omitempty"`
	Transitions   []Transition   `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	SkipCondition string         `yaml:"skipCondition,omitempty" json:"skipCondition,omitempty"`
	// Condition guards BREAK and CONTINUE tasks; empty means always taken.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	// JoinTaskID is set on FORK tasks: forked branches terminate there.
	JoinTaskID string `yaml:"join,omitempty" json:"join,omitempty"`
	// SubProcessID is set on SUBPROCESS tasks.
	SubProcessID string `yaml:"subProcess,omitempty" json:"subProcess,omitempty"`
}

// DefaultTransition returns the task's single DEFAULT edge, if declared.
func (t *TaskDefinition) DefaultTransition() (Transition, bool) {
	for _, tr := range t.Transitions {
		if tr.Type == TransitionDefault {
			return tr, true
		}
	}
	return Transition{}, false
}

// TransitionsOfType returns edges of the given type in declared order.
func (t *TaskDefinition) TransitionsOfType(typ TransitionType) []Transition {
	var out []Transition
	for _, tr := range t.Transitions {
		if tr.Type == typ {
			out = append(out, tr)
		}
	}
	return out
}

// ProcessDefinition is a static, versioned graph of tasks and transitions.
// Loaded once per snapshot and never mutated at runtime.
type ProcessDefinition struct {
	ID             string                     `yaml:"id" json:"id"`
	Version        int                        `yaml:"version" json:"version"`
	StartTaskID    string                     `yaml:"startTask" json:"startTask"`
	StartPredicate string                     `yaml:"startPredicate,omitempty" json:"startPredicate,omitempty"`
	Properties     map[string]any             `yaml:"properties,omitempty" json:"properties,omitempty"`
	Tasks          map[string]*TaskDefinition `yaml:"-" json:"-"`

	// TaskList preserves the declared order for validation output.
	TaskList []*TaskDefinition `yaml:"tasks" json:"tasks"`
}

// SnapshotID identifies one immutable definition version.
func (d *ProcessDefinition) SnapshotID() string {
	return fmt.Sprintf("%s:%d", d.ID, d.Version)
}

// Task returns the definition for a task id.
func (d *ProcessDefinition) Task(id string) (*TaskDefinition, bool) {
	t, ok := d.Tasks[id]
	return t, ok
}

// Validate checks structural invariants of the graph: operators are known,
// transition targets exist, and each task declares at most one DEFAULT edge.
func (d *ProcessDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("process definition has no id")
	}
	if _, ok := d.Tasks[d.StartTaskID]; !ok {
		return fmt.Errorf("process %s: start task %q not found", d.ID, d.StartTaskID)
	}
	for _, t := range d.TaskList {
		if !t.Operator.valid() {
			return fmt.Errorf("process %s: task %s has unknown operator %q", d.ID, t.ID, t.Operator)
		}
		defaults := 0
		for _, tr := range t.Transitions {
			if tr.Type == TransitionDefault {
				defaults++
			}
			if _, ok := d.Tasks[tr.TargetTaskID]; !ok {
				return fmt.Errorf("process %s: task %s transition targets unknown task %q", d.ID, t.ID, tr.TargetTaskID)
			}
		}
		if defaults > 1 {
			return fmt.Errorf("process %s: task %s declares %d DEFAULT transitions, at most one allowed", d.ID, t.ID, defaults)
		}
		if t.Operator == OperatorFork && t.JoinTaskID == "" {
			return fmt.Errorf("process %s: fork task %s has no join task", d.ID, t.ID)
		}
		if t.Operator == OperatorSubProcess && t.SubProcessID == "" {
			return fmt.Errorf("process %s: subprocess task %s names no process", d.ID, t.ID)
		}
	}
	return nil
}

// index rebuilds the id lookup map from the declared task list.
func (d *ProcessDefinition) index() {
	d.Tasks = make(map[string]*TaskDefinition, len(d.TaskList))
	for _, t := range d.TaskList {
		d.Tasks[t.ID] = t
	}
}

// ReadDefinition loads a single process definition from a YAML file.
func ReadDefinition(file string) (*ProcessDefinition, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}

	var def ProcessDefinition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("error unmarshalling YAML: %w", err)
	}
	def.index()

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitions loads every *.yaml process definition in a directory.
func LoadDefinitions(dir string) (map[string]*ProcessDefinition, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	defs := make(map[string]*ProcessDefinition)
	for _, file := range files {
		def, err := ReadDefinition(file)
		if err != nil {
			return nil, err
		}
		defs[def.ID] = def
	}
	return defs, nil
}
