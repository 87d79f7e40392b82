package main

import (
	"fmt"

	"github.com/driftsound/driftsound/internal/errors"
	"github.com/driftsound/driftsound/internal/events"
)

// sentryEventConsumer adapts a errors.TelemetryReporter into an
// events.EventConsumer, so EnhancedErrors published onto the event bus
// (once errors.SetEventPublisher routes through it) still reach Sentry
// instead of being silently dropped — TryPublish only hands events to
// registered consumers, it never reports them itself.
type sentryEventConsumer struct {
	reporter errors.TelemetryReporter
}

func (c *sentryEventConsumer) Name() string { return "sentry" }

func (c *sentryEventConsumer) ProcessEvent(event events.ErrorEvent) error {
	ee, ok := event.(*errors.EnhancedError)
	if !ok {
		return fmt.Errorf("eventbus: unexpected event type %T", event)
	}
	c.reporter.ReportError(ee)
	return nil
}

func (c *sentryEventConsumer) ProcessBatch(evts []events.ErrorEvent) error {
	for _, ev := range evts {
		if err := c.ProcessEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *sentryEventConsumer) SupportsBatching() bool { return true }

// startEventBus brings up the internal diagnostic event bus and wires it
// into internal/errors via SetEventPublisher, registering reporter as its
// sole consumer, so EnhancedError reporting moves off the calling
// goroutine and onto the event bus's own worker pool. Returns nil if the
// bus failed to start; the caller falls back to errors' own synchronous
// reporting path in that case.
func startEventBus(reporter errors.TelemetryReporter) (*events.EventBus, error) {
	eb, err := events.Initialize(events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing event bus: %w", err)
	}
	if eb == nil {
		return nil, nil
	}

	if err := eb.RegisterConsumer(&sentryEventConsumer{reporter: reporter}); err != nil {
		return nil, fmt.Errorf("registering event bus consumer: %w", err)
	}

	if err := events.InitializeErrorsIntegration(func(publisher any) {
		errors.SetEventPublisher(publisher.(errors.EventPublisher))
	}); err != nil {
		return nil, fmt.Errorf("wiring event bus into error telemetry: %w", err)
	}

	return eb, nil
}
