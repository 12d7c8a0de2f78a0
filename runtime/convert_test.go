package runtime

import (
	"testing"
	"time"
)

type simpleInput struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type timedInput struct {
	Timeout time.Duration `json:"timeout"`
	Since   time.Time     `json:"since"`
}

type nestedOutput struct {
	Title   string      `json:"title"`
	Details simpleInput `json:"details"`
	Hidden  string      `json:"-"`
	Maybe   string      `json:"maybe,omitempty"`
}

func TestMapToStruct(t *testing.T) {
	input := map[string]any{
		"name":  "retry-job",
		"count": 3,
	}

	var result simpleInput
	if err := MapToStruct(input, &result); err != nil {
		t.Fatalf("MapToStruct failed: %v", err)
	}

	if result.Name != "retry-job" {
		t.Errorf("Expected name 'retry-job', got '%s'", result.Name)
	}
	if result.Count != 3 {
		t.Errorf("Expected count 3, got %d", result.Count)
	}
}

func TestMapToStruct_TypeCoercion(t *testing.T) {
	// JSON-transported numbers arrive as float64, strings coerce too
	input := map[string]any{
		"name":  "retry-job",
		"count": "7",
	}

	var result simpleInput
	if err := MapToStruct(input, &result); err != nil {
		t.Fatalf("MapToStruct failed: %v", err)
	}
	if result.Count != 7 {
		t.Errorf("Expected count 7, got %d", result.Count)
	}
}

func TestMapToStruct_DurationAndTime(t *testing.T) {
	input := map[string]any{
		"timeout": "45s",
		"since":   "2026-01-15T10:00:00Z",
	}

	var result timedInput
	if err := MapToStruct(input, &result); err != nil {
		t.Fatalf("MapToStruct failed: %v", err)
	}

	if result.Timeout != 45*time.Second {
		t.Errorf("Expected timeout 45s, got %v", result.Timeout)
	}
	want := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if !result.Since.Equal(want) {
		t.Errorf("Expected since %v, got %v", want, result.Since)
	}
}

func TestStructToMap(t *testing.T) {
	out := nestedOutput{
		Title:   "report",
		Details: simpleInput{Name: "inner", Count: 2},
		Hidden:  "should not appear",
	}

	m, err := StructToMap(out)
	if err != nil {
		t.Fatalf("StructToMap failed: %v", err)
	}

	if m["title"] != "report" {
		t.Errorf("Expected title 'report', got '%v'", m["title"])
	}
	details, ok := m["details"].(map[string]any)
	if !ok {
		t.Fatalf("Expected details to be a map, got %T", m["details"])
	}
	if details["name"] != "inner" {
		t.Errorf("Expected inner name, got '%v'", details["name"])
	}
	if _, present := m["Hidden"]; present {
		t.Error("Expected json:\"-\" field to be dropped")
	}
	if _, present := m["maybe"]; present {
		t.Error("Expected empty omitempty field to be dropped")
	}
}
