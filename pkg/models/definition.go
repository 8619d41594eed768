package models

import "time"

// WorkflowDefinition describes a named, versioned business process. The
// record is immutable once published: edits create a new version, and
// exactly one version is active per (tenant, name). The executable body is
// registered in-process by (name, version) and is not part of the record.
type WorkflowDefinition struct {
	Tenant      string   `json:"tenant"       validate:"required"`
	Name        string   `json:"name"         validate:"required,min=3"`
	Version     string   `json:"version"      validate:"required,semver"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`

	// TriggerEvent is the event type whose delivery starts a new execution
	// of this workflow.
	TriggerEvent string `json:"trigger_event" validate:"required"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the unique identity of this definition version.
func (d *WorkflowDefinition) Key() string {
	return d.Tenant + ":" + d.Name + ":" + d.Version
}
