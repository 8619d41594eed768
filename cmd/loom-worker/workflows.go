package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomery/loom/pkg/flow"
	"github.com/loomery/loom/pkg/models"
	"github.com/loomery/loom/pkg/registry"
)

const (
	sampleWorkflowName    = "customer-onboarding"
	sampleWorkflowVersion = "1.0.0"
)

// registerSampleWorkflow installs the built-in onboarding workflow: its
// actions, its catalog entries and its body. Embedding applications replace
// this with their own registrations. Returns the event types the pool
// consumes.
func registerSampleWorkflow(
	actions *registry.ActionRegistry,
	catalog *registry.EventCatalog,
	bodies *flow.BodyRegistry,
	logger *slog.Logger,
) ([]string, error) {
	actionLogger := logger.With("module", "sample_actions")

	err := actions.Register("create_welcome_ticket", func(ctx context.Context, params map[string]any, call registry.CallContext) (map[string]any, error) {
		ticketID := "TCK-" + uuid.New().String()[:8]

		actionLogger.InfoContext(ctx, "Created welcome ticket",
			"tenant", call.Tenant, "execution_id", call.ExecutionID,
			"ticket_id", ticketID, "email", params["email"])

		return map[string]any{"ticket_id": ticketID}, nil
	})
	if err != nil {
		return nil, err
	}

	err = actions.Register("close_ticket", func(ctx context.Context, params map[string]any, call registry.CallContext) (map[string]any, error) {
		actionLogger.InfoContext(ctx, "Closed ticket",
			"tenant", call.Tenant, "execution_id", call.ExecutionID,
			"ticket_id", params["ticket_id"])

		return map[string]any{"closed": true}, nil
	})
	if err != nil {
		return nil, err
	}

	if err := catalog.Register("CustomerCreated", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
			"email":       map[string]any{"type": "string"},
			"name":        map[string]any{"type": "string"},
		},
		"required": []any{"customer_id", "email"},
	}, "A new customer signed up"); err != nil {
		return nil, err
	}

	if err := catalog.Register("WelcomeEmailSent", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
		},
	}, "The welcome email for a customer went out"); err != nil {
		return nil, err
	}

	if err := catalog.Register("OnboardingCompleted", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "string"},
			"ticket_id":   map[string]any{"type": "string"},
		},
	}, "A customer finished onboarding"); err != nil {
		return nil, err
	}

	err = bodies.Register(sampleWorkflowName, sampleWorkflowVersion, func(run *flow.Run) error {
		trigger := run.Trigger()

		ticket, err := run.Action("create_welcome_ticket", map[string]any{
			"email": trigger["email"],
		})
		if err != nil {
			return err
		}

		run.Data().Set("ticket_id", ticket["ticket_id"])
		run.SetState("awaiting_email")

		if _, err := run.WaitFor("WelcomeEmailSent"); err != nil {
			return err
		}

		if _, err := run.Action("close_ticket", map[string]any{
			"ticket_id": ticket["ticket_id"],
		}); err != nil {
			return err
		}

		if err := run.Emit("OnboardingCompleted", map[string]any{
			"customer_id": trigger["customer_id"],
			"ticket_id":   ticket["ticket_id"],
		}); err != nil {
			return err
		}

		run.SetState("done")

		return nil
	})
	if err != nil {
		return nil, err
	}

	// The pool consumes the trigger and every waited-on type.
	return []string{"CustomerCreated", "WelcomeEmailSent"}, nil
}

// registerSampleDefinitions activates the sample workflow for the given
// tenant so deliveries on its trigger stream start executions.
func registerSampleDefinitions(ctx context.Context, engine *flow.Engine, tenant string) error {
	definition := &models.WorkflowDefinition{
		Tenant:       tenant,
		Name:         sampleWorkflowName,
		Version:      sampleWorkflowVersion,
		Description:  "Creates a welcome ticket, waits for the welcome email, then closes out",
		TriggerEvent: "CustomerCreated",
		Active:       true,
	}

	if err := engine.RegisterDefinition(ctx, definition); err != nil {
		return fmt.Errorf("failed to register sample workflow: %w", err)
	}

	return nil
}
