package runtime

import "context"

// Lifecycle allows plugins to hook container startup and graceful shutdown.
// Plugins implementing this interface have Initialize called once at startup
// and Shutdown called during graceful shutdown, in reverse order.
type Lifecycle interface {
	// Initialize establishes connections, clients, etc. Config and
	// dependencies are already set on the plugin struct.
	Initialize(ctx context.Context) error

	// Shutdown closes connections and cleans up resources.
	Shutdown(ctx context.Context) error
}
