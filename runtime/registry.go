package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// TaskHandler is the behavior invoked by a TASK-operator task. Input is the
// evaluated input template; the returned map becomes the task's OUTPUT variable.
type TaskHandler interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// SuspendExecution is returned (as an error) by a handler that cannot finish
// synchronously. The owning task parks in WAIT with the given callback type
// and payload; a later Resume signal carries the handler's eventual output.
type SuspendExecution struct {
	Callback string
	Payload  map[string]any
}

func (s *SuspendExecution) Error() string {
	return fmt.Sprintf("execution suspended awaiting %s", s.Callback)
}

// TaskHandlerFunc adapts a plain function to TaskHandler.
type TaskHandlerFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

func (f TaskHandlerFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}

// Interface type constants for plugin capabilities
const (
	InterfaceLifecycle = "Lifecycle"
)

// Registry holds named task handlers and the plugins that provide them.
type Registry struct {
	handlers           map[string]TaskHandler
	plugins            map[string]any   // Plugin instances (name -> plugin)
	pluginsByInterface map[string][]any // Interface name -> plugins implementing that interface
}

func NewRegistry() *Registry {
	return &Registry{
		handlers:           make(map[string]TaskHandler),
		plugins:            make(map[string]any),
		pluginsByInterface: make(map[string][]any),
	}
}

func (r *Registry) Handler(name string) (TaskHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

func (r *Registry) SetHandler(name string, h TaskHandler) {
	r.handlers[name] = h
}

// HandlerNames returns the registered handler names.
func (r *Registry) HandlerNames() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// RegisterPlugin registers a plugin instance and auto-discovers its handlers
// and interfaces. Every exported method with the signature
//
//	func (p *Plugin) Name(ctx context.Context, input map[string]any) (map[string]any, error)
//
// is registered as handler "pluginName.name".
func (r *Registry) RegisterPlugin(pluginName string, plugin any) error {
	if plugin == nil {
		return fmt.Errorf("plugin cannot be nil")
	}

	r.plugins[pluginName] = plugin
	r.detectPluginInterfaces(plugin)

	pluginType := reflect.TypeOf(plugin)
	pluginValue := reflect.ValueOf(plugin)

	for i := 0; i < pluginType.NumMethod(); i++ {
		method := pluginType.Method(i)
		if !method.IsExported() {
			continue
		}
		if !isValidHandlerSignature(method.Type) {
			continue
		}

		name := fmt.Sprintf("%s.%s", pluginName, toLowerFirst(method.Name))
		r.handlers[name] = &pluginHandlerWrapper{plugin: pluginValue, method: method}
	}

	return nil
}

// detectPluginInterfaces detects which interfaces a plugin implements and registers them
func (r *Registry) detectPluginInterfaces(plugin any) {
	if _, ok := plugin.(Lifecycle); ok {
		r.pluginsByInterface[InterfaceLifecycle] = append(
			r.pluginsByInterface[InterfaceLifecycle],
			plugin,
		)
	}
}

// GetPlugin returns a plugin instance by name.
func (r *Registry) GetPlugin(name string) any {
	return r.plugins[name]
}

// Initialize calls Initialize on all plugins implementing the Lifecycle interface.
func (r *Registry) Initialize(ctx context.Context) error {
	for i, plugin := range r.pluginsByInterface[InterfaceLifecycle] {
		lifecycle := plugin.(Lifecycle)
		if err := lifecycle.Initialize(ctx); err != nil {
			return fmt.Errorf("plugin #%d initialization failed: %w", i, err)
		}
	}
	return nil
}

// Shutdown calls Shutdown on all plugins implementing the Lifecycle interface,
// in reverse order of initialization.
func (r *Registry) Shutdown(ctx context.Context) error {
	lifecyclePlugins := r.pluginsByInterface[InterfaceLifecycle]

	var errs []error
	for i := len(lifecyclePlugins) - 1; i >= 0; i-- {
		lifecycle := lifecyclePlugins[i].(Lifecycle)
		if err := lifecycle.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("plugin #%d shutdown failed: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// isValidHandlerSignature checks for
// func(ctx context.Context, input map[string]any) (map[string]any, error)
func isValidHandlerSignature(methodType reflect.Type) bool {
	if methodType.NumIn() != 3 {
		return false
	}
	if methodType.NumOut() != 2 {
		return false
	}

	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	mapType := reflect.TypeOf(map[string]any(nil))
	errorType := reflect.TypeOf((*error)(nil)).Elem()

	if methodType.In(1) != ctxType {
		return false
	}
	if methodType.In(2) != mapType {
		return false
	}
	if methodType.Out(0) != mapType {
		return false
	}
	if methodType.Out(1) != errorType {
		return false
	}
	return true
}

// toLowerFirst converts first character of string to lowercase
func toLowerFirst(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// pluginHandlerWrapper wraps a plugin method to implement TaskHandler.
type pluginHandlerWrapper struct {
	plugin reflect.Value
	method reflect.Method
}

func (w *pluginHandlerWrapper) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	results := w.method.Func.Call([]reflect.Value{
		w.plugin,
		reflect.ValueOf(ctx),
		reflect.ValueOf(input),
	})

	var out map[string]any
	if !results[0].IsNil() {
		out = results[0].Interface().(map[string]any)
	}

	var err error
	if !results[1].IsNil() {
		err = results[1].Interface().(error)
	}

	return out, err
}
