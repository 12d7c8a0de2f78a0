package runtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ProcessOutcome is the final result of a process instance, delivered to an
// outcome sink once the instance reaches a terminal status.
type ProcessOutcome struct {
	Success bool `json:"success"`
	Result  any  `json:"result,omitempty"`
	Error   any  `json:"error,omitempty"`
}

// SuccessOutcome wraps a final result.
func SuccessOutcome(result any) ProcessOutcome {
	return ProcessOutcome{Success: true, Result: result}
}

// FailureOutcome wraps a final error payload.
func FailureOutcome(err any) ProcessOutcome {
	return ProcessOutcome{Success: false, Error: err}
}

// OutcomeSink receives the final outcome of an instance; e.g. fulfills a
// caller's pending request or publishes to an external channel.
type OutcomeSink interface {
	Deliver(instanceID string, outcome ProcessOutcome)
}

// SinkRegistry manages registered outcome sinks. Sinks registered per instance
// id are removed after a single delivery.
type SinkRegistry struct {
	mu       sync.Mutex
	named    map[string]OutcomeSink
	pending  map[string]OutcomeSink
	fallback OutcomeSink
}

func NewSinkRegistry() *SinkRegistry {
	return &SinkRegistry{
		named:    map[string]OutcomeSink{"log": &LogSink{}},
		pending:  make(map[string]OutcomeSink),
		fallback: &LogSink{},
	}
}

// Register adds a named sink selectable via ProcessInstance.OutcomeSinkID.
func (r *SinkRegistry) Register(name string, sink OutcomeSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = sink
}

// Await registers a one-shot sink for a specific instance id and returns a
// channel that receives its outcome.
func (r *SinkRegistry) Await(instanceID string) <-chan ProcessOutcome {
	ch := make(chan ProcessOutcome, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[instanceID] = channelSink(ch)
	return ch
}

// AwaitNamed registers a one-shot named sink under a generated id and
// returns it with its outcome channel. Registering before the instance is
// created makes the wait race-free: the id travels with the instance.
func (r *SinkRegistry) AwaitNamed() (string, <-chan ProcessOutcome) {
	ch := make(chan ProcessOutcome, 1)
	id := "await:" + uuid.New().String()
	r.Register(id, channelSink(ch))
	return id, ch
}

// Unregister removes a named sink.
func (r *SinkRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.named, name)
}

// Deliver routes an outcome to the instance's one-shot sink if present, then
// to its named sink, falling back to logging.
func (r *SinkRegistry) Deliver(instanceID, sinkID string, outcome ProcessOutcome) {
	r.mu.Lock()
	oneshot, ok := r.pending[instanceID]
	if ok {
		delete(r.pending, instanceID)
	}
	named := r.named[sinkID]
	fallback := r.fallback
	r.mu.Unlock()

	if ok {
		oneshot.Deliver(instanceID, outcome)
		return
	}
	if named != nil {
		named.Deliver(instanceID, outcome)
		return
	}
	fallback.Deliver(instanceID, outcome)
}

// LogSink logs delivered outcomes. Default sink for fire-and-forget starts.
type LogSink struct{}

func (s *LogSink) Deliver(instanceID string, outcome ProcessOutcome) {
	if outcome.Success {
		slog.Info("process completed", "instance", instanceID, "result", outcome.Result)
		return
	}
	slog.Error("process failed", "instance", instanceID, "error", outcome.Error)
}

type channelSink chan<- ProcessOutcome

func (c channelSink) Deliver(_ string, outcome ProcessOutcome) {
	c <- outcome
}
