package modules

import (
	"coffeeshop.io/coffeeshop/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	var deps handlers.ServerDeps
	if infra != nil && infra.DB != nil {
		deps.DB = infra.DB.Pool
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
