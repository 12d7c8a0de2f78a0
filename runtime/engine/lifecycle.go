package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"procflow/runtime"
	"procflow/runtime/store"
)

// isConflict folds the engine's conflict taxonomy and the store's guarded
// save rejection into one non-retryable class.
func isConflict(err error) bool {
	return runtime.IsConflict(err) || errors.Is(err, store.ErrStatusConflict)
}

// Lifecycle decouples "something should happen to an instance" from doing
// it: calls enqueue and return immediately, workers apply them with retries.
// Delivery is at-least-once; the guarded saves inside the engine make
// duplicate application a suppressed race.
type Lifecycle interface {
	StartProcess(processID string, payload map[string]any, sinkID string)
	StartInstance(instanceID string)
	SignalProcess(instanceID string, sig runtime.Signal)
	ContinueProcessFromTask(instanceID, taskID string)
	NotifyCompletion(instanceID, sinkID string, outcome runtime.ProcessOutcome)
	Shutdown(ctx context.Context) error
}

type dispatchKind int

const (
	dispatchStartProcess dispatchKind = iota
	dispatchStartInstance
	dispatchSignal
	dispatchContinue
	dispatchNotify
)

type dispatch struct {
	kind       dispatchKind
	processID  string
	instanceID string
	taskID     string
	sinkID     string
	payload    map[string]any
	sig        runtime.Signal
	outcome    runtime.ProcessOutcome
}

type dispatcher struct {
	eng   *Engine
	queue chan dispatch
	wg    sync.WaitGroup
	once  sync.Once
	l     *slog.Logger
}

func newDispatcher(eng *Engine, workers, queueSize int) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	d := &dispatcher{
		eng:   eng,
		queue: make(chan dispatch, queueSize),
		l:     eng.l.With("component", "dispatcher"),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.process(msg)
	}
}

// process applies one dispatch with exponential backoff. Validation and
// conflict errors are not retried: the former cannot heal, the latter means
// another actor already advanced the instance.
func (d *dispatcher) process(msg dispatch) {
	ctx := context.Background()
	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := d.apply(ctx, msg)
		if err == nil || runtime.IsValidation(err) || isConflict(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		if isConflict(err) {
			d.l.Debug("dispatch superseded", "instance", msg.instanceID, "error", err)
			return
		}
		d.l.Error("dispatch failed", "kind", int(msg.kind), "instance", msg.instanceID, "error", err)
	}
}

func (d *dispatcher) apply(ctx context.Context, msg dispatch) error {
	switch msg.kind {
	case dispatchStartProcess:
		_, err := d.eng.StartProcess(ctx, msg.processID, msg.payload, msg.sinkID)
		return err
	case dispatchStartInstance:
		return d.eng.startInstance(ctx, msg.instanceID)
	case dispatchSignal:
		return d.eng.SignalInstance(ctx, msg.instanceID, msg.sig)
	case dispatchContinue:
		return d.eng.ContinueInstance(ctx, msg.instanceID, msg.taskID)
	case dispatchNotify:
		d.eng.sinks.Deliver(msg.instanceID, msg.sinkID, msg.outcome)
	}
	return nil
}

func (d *dispatcher) enqueue(msg dispatch) {
	defer func() {
		// a send on the closed queue during shutdown is dropped, not fatal
		if recover() != nil {
			d.l.Warn("dispatch dropped, dispatcher closed", "instance", msg.instanceID)
		}
	}()
	d.queue <- msg
}

func (d *dispatcher) StartProcess(processID string, payload map[string]any, sinkID string) {
	d.enqueue(dispatch{kind: dispatchStartProcess, processID: processID, payload: payload, sinkID: sinkID})
}

func (d *dispatcher) StartInstance(instanceID string) {
	d.enqueue(dispatch{kind: dispatchStartInstance, instanceID: instanceID})
}

func (d *dispatcher) SignalProcess(instanceID string, sig runtime.Signal) {
	d.enqueue(dispatch{kind: dispatchSignal, instanceID: instanceID, sig: sig})
}

func (d *dispatcher) ContinueProcessFromTask(instanceID, taskID string) {
	d.enqueue(dispatch{kind: dispatchContinue, instanceID: instanceID, taskID: taskID})
}

func (d *dispatcher) NotifyCompletion(instanceID, sinkID string, outcome runtime.ProcessOutcome) {
	d.enqueue(dispatch{kind: dispatchNotify, instanceID: instanceID, sinkID: sinkID, outcome: outcome})
}

// Shutdown stops intake and waits for the workers to drain the queue,
// bounded by ctx.
func (d *dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.queue) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
