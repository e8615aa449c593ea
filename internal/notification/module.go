// Package notification bridges domain events to connected dashboard clients.
package notification

import (
	"context"

	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/notification/sse"
	"leadflow_backend/platform/logger"
)

// Module subscribes to lead lifecycle events and fans them out over SSE.
type Module struct {
	sse *sse.Service
}

// NewModule creates the notification module and wires its event subscriptions.
func NewModule(bus events.Bus, log *logger.Logger) *Module {
	service := sse.New(log)

	bus.Subscribe(events.LeadStatusChanged{}.EventName(), events.HandlerFunc(func(_ context.Context, event events.Event) error {
		e, ok := event.(events.LeadStatusChanged)
		if !ok {
			return nil
		}
		service.Broadcast(sse.Event{
			Type:      sse.EventLeadStatusChanged,
			LeadID:    e.LeadID,
			Status:    e.NewStatus,
			AdvisorID: e.AdvisorID,
			Timestamp: e.OccurredAt(),
		})
		return nil
	}))

	bus.Subscribe(events.LeadSessionExpired{}.EventName(), events.HandlerFunc(func(_ context.Context, event events.Event) error {
		e, ok := event.(events.LeadSessionExpired)
		if !ok {
			return nil
		}
		service.Broadcast(sse.Event{
			Type:      sse.EventSessionExpired,
			LeadID:    e.LeadID,
			AdvisorID: e.AdvisorID,
			Timestamp: e.OccurredAt(),
		})
		return nil
	}))

	return &Module{sse: service}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// RegisterRoutes mounts the SSE stream endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/events", m.sse.Handler())
}

// Close disconnects all SSE clients.
func (m *Module) Close() {
	m.sse.Close()
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
