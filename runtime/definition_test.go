package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

func validDefinition() *ProcessDefinition {
	d := &ProcessDefinition{
		ID:          "payment",
		Version:     1,
		StartTaskID: "charge",
		TaskList: []*TaskDefinition{
			{
				ID:       "charge",
				Operator: OperatorTask,
				Handler:  "http.request",
				Transitions: []Transition{
					{Type: TransitionConditional, TargetTaskID: "notify", Predicate: "${charge.output.ok} == true"},
					{Type: TransitionDefault, TargetTaskID: "refund"},
				},
			},
			{ID: "notify", Operator: OperatorTask},
			{ID: "refund", Operator: OperatorTask},
		},
	}
	d.index()
	return d
}

func TestValidate(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProcessDefinition)
	}{
		{
			name:   "missing start task",
			mutate: func(d *ProcessDefinition) { d.StartTaskID = "nope" },
		},
		{
			name: "unknown operator",
			mutate: func(d *ProcessDefinition) {
				d.TaskList[1].Operator = "MERGE"
			},
		},
		{
			name: "unknown transition target",
			mutate: func(d *ProcessDefinition) {
				d.TaskList[0].Transitions[1].TargetTaskID = "ghost"
			},
		},
		{
			name: "two default transitions",
			mutate: func(d *ProcessDefinition) {
				d.TaskList[0].Transitions = append(d.TaskList[0].Transitions,
					Transition{Type: TransitionDefault, TargetTaskID: "notify"})
			},
		},
		{
			name: "fork without join",
			mutate: func(d *ProcessDefinition) {
				d.TaskList[2].Operator = OperatorFork
			},
		},
		{
			name: "subprocess without process",
			mutate: func(d *ProcessDefinition) {
				d.TaskList[2].Operator = OperatorSubProcess
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			tt.mutate(d)
			d.index()
			if err := d.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestReadDefinition(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "enrich.yaml")
	content := []byte(`
id: enrich
version: 2
startTask: fetch
tasks:
  - id: fetch
    operator: TASK
    handler: http.request
    input:
      url: https://example.com/users/${process.input.userId}
      method: GET
    transitions:
      - type: DEFAULT
        target: done
  - id: done
    operator: RETURN
    input:
      user: ${fetch.output.body}
`)
	if err := os.WriteFile(file, content, 0o644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def, ok := defs["enrich"]
	if !ok {
		t.Fatalf("definition not loaded: %v", defs)
	}
	if def.Version != 2 || def.StartTaskID != "fetch" {
		t.Errorf("unexpected header: %+v", def)
	}
	if def.SnapshotID() != "enrich:2" {
		t.Errorf("got snapshot id %q", def.SnapshotID())
	}
	fetch, ok := def.Task("fetch")
	if !ok || fetch.Handler != "http.request" || len(fetch.Transitions) != 1 {
		t.Errorf("unexpected task: %+v", fetch)
	}
}
