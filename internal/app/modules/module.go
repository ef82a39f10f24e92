// Package modules contains the dependency modules of the composition root.
//
// Infrastructure owns the storage backends chosen by storage.driver; each
// Module builds one slice of the service on top of it.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"coffeeshop.io/coffeeshop/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// PeriodicJobProvider is implemented by modules that schedule River jobs.
type PeriodicJobProvider interface {
	PeriodicJobs() []*river.PeriodicJob
}

// Starter is implemented by modules with background loops. Start is called
// once the HTTP server is about to accept traffic.
type Starter interface {
	Start(context.Context) error
}
