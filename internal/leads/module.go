// Package leads provides the lead lifecycle bounded context: the status
// state machine, advisor session leases, and the assignment engine that
// composes them.
package leads

import (
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/engine"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/lease"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	engine  *engine.Engine
	sweeper *lease.Sweeper
}

// NewModule creates and initializes the leads module with all its dependencies.
// retry may be nil when no background queue is available; failed audit writes
// are then only logged.
func NewModule(pool *pgxpool.Pool, redisClient *redis.Client, bus events.Bus, retry engine.HistoryRetryQueue, val *validator.Validator, cfg config.LeaseConfig, log *logger.Logger) *Module {
	repo := repository.New(pool)
	history := repository.NewHistory(pool)
	leaseStore := lease.NewRedisStore(redisClient)

	eng := engine.New(repo, history, leaseStore, bus, retry, cfg.GetLeaseTTL(), log)
	sweeper := lease.NewSweeper(leaseStore, cfg.GetSweepInterval(), eng.HandleLeaseExpired, log)

	return &Module{
		handler: handler.New(eng, val),
		engine:  eng,
		sweeper: sweeper,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// Engine returns the assignment engine for external use.
func (m *Module) Engine() *engine.Engine {
	return m.engine
}

// Sweeper returns the lease sweeper; the caller owns its lifecycle.
func (m *Module) Sweeper() *lease.Sweeper {
	return m.sweeper
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leadsGroup := ctx.V1.Group("/leads")
	m.handler.RegisterRoutes(leadsGroup)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
