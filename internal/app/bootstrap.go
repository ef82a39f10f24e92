// Package app is the composition root. Bootstrap stays orchestration-only;
// every dependency is built by a module.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"coffeeshop.io/coffeeshop/internal/api/handlers"
	"coffeeshop.io/coffeeshop/internal/app/modules"
	"coffeeshop.io/coffeeshop/internal/config"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	Infra   *modules.Infrastructure
	Modules []modules.Module

	commands   *modules.CommandModule
	projection *modules.ProjectionModule
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	commands := modules.NewCommandModule(infra)
	projection := modules.NewProjectionModule(infra)
	allModules := []modules.Module{commands, projection}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		if p, ok := mod.(modules.PeriodicJobProvider); ok {
			periodic = append(periodic, p.PeriodicJobs()...)
		}
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	serverDeps := modules.NewServerDeps(infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:     cfg,
		Router:     newRouter(cfg, server),
		Infra:      infra,
		Modules:    allModules,
		commands:   commands,
		projection: projection,
	}, nil
}

// Commands returns the command module.
func (a *Application) Commands() *modules.CommandModule { return a.commands }

// Projection returns the projection module.
func (a *Application) Projection() *modules.ProjectionModule { return a.projection }
