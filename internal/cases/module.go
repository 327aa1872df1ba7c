// Package cases provides the case lifecycle domain module.
package cases

import (
	"safereport_backend/internal/cases/domain"
	"safereport_backend/internal/cases/handler"
	"safereport_backend/internal/cases/repository"
	"safereport_backend/internal/cases/service"
	"safereport_backend/internal/events"
	apphttp "safereport_backend/internal/http"
	"safereport_backend/platform/config"
	"safereport_backend/platform/logger"
	"safereport_backend/platform/metrics"
	"safereport_backend/platform/validator"
)

// Module represents the cases domain module
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the cases module with all dependencies wired
func NewModule(store repository.Store, bus events.Bus, cfg config.LifecycleConfig, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(store, bus, ServiceConfig(cfg), log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// ServiceConfig maps lifecycle settings onto the engine configuration.
func ServiceConfig(cfg config.LifecycleConfig) service.Config {
	policy := domain.DefaultPolicy()
	if cfg == nil {
		return service.Config{Policy: policy}
	}
	if cfg.GetDisputeLimit() > 0 {
		policy.DisputeLimit = cfg.GetDisputeLimit()
	}
	if cfg.GetConfirmationWindow() > 0 {
		policy.ConfirmationWindow = cfg.GetConfirmationWindow()
	}
	return service.Config{LockTimeout: cfg.GetLockTimeout(), Policy: policy}
}

// Service exposes the lifecycle engine to other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// SetMetrics attaches Prometheus instruments.
func (m *Module) SetMetrics(mt *metrics.Metrics) {
	m.service.SetMetrics(mt)
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "cases"
}

// RegisterRoutes mounts the public intake route and the authenticated case routes
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	intake := ctx.V1.Group("/intake")
	if ctx.IntakeRateLimiter != nil {
		intake.Use(ctx.IntakeRateLimiter.RateLimit())
	}
	intake.POST("", m.handler.Intake)

	m.handler.RegisterRoutes(ctx.Protected.Group("/cases"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
