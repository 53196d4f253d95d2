package models

import "encoding/json"

// ResourceKind is a workflow resource binding kind. Each kind maps to a
// dedicated wrangler configuration section.
type ResourceKind string

const (
	ResourceKindKV    ResourceKind = "kv"
	ResourceKindR2    ResourceKind = "r2"
	ResourceKindD1    ResourceKind = "d1"
	ResourceKindQueue ResourceKind = "queue"
	ResourceKindAI    ResourceKind = "ai"
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceKindKV, ResourceKindR2, ResourceKindD1, ResourceKindQueue, ResourceKindAI:
		return true
	}
	return false
}

// ResourceBinding declares one external resource the workflow needs.
type ResourceBinding struct {
	Kind ResourceKind `json:"kind"`
	// Name is the underlying resource name (namespace, bucket, database, queue).
	// Unused for kind "ai".
	Name string `json:"name,omitempty"`
}

// WorkflowMetadata describes a generated workflow: identity, parameter schema,
// and bindings. Derived artifacts (wrangler.jsonc, README.md) are regenerated
// from this record after every successful generation.
type WorkflowMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	ParamsSchema json.RawMessage `json:"paramsSchema,omitempty"`

	EnvVars   map[string]string          `json:"envVars,omitempty"`
	Secrets   map[string]string          `json:"secrets,omitempty"`
	Resources map[string]ResourceBinding `json:"resources,omitempty"`
}

// Clone returns a deep copy.
func (m WorkflowMetadata) Clone() WorkflowMetadata {
	out := m
	if m.ParamsSchema != nil {
		out.ParamsSchema = append(json.RawMessage(nil), m.ParamsSchema...)
	}
	if m.EnvVars != nil {
		out.EnvVars = make(map[string]string, len(m.EnvVars))
		for k, v := range m.EnvVars {
			out.EnvVars[k] = v
		}
	}
	if m.Secrets != nil {
		out.Secrets = make(map[string]string, len(m.Secrets))
		for k, v := range m.Secrets {
			out.Secrets[k] = v
		}
	}
	if m.Resources != nil {
		out.Resources = make(map[string]ResourceBinding, len(m.Resources))
		for k, v := range m.Resources {
			out.Resources[k] = v
		}
	}
	return out
}

// Merge folds incoming metadata into m: scalar fields are last-writer-wins
// when non-empty, map fields are per-key union with incoming keys winning.
// A binding, once declared, persists for the session; there is no deletion
// semantics (the merge cannot remove keys).
func (m *WorkflowMetadata) Merge(in WorkflowMetadata) {
	if in.Name != "" {
		m.Name = in.Name
	}
	if in.Description != "" {
		m.Description = in.Description
	}
	if len(in.ParamsSchema) > 0 {
		m.ParamsSchema = append(json.RawMessage(nil), in.ParamsSchema...)
	}
	if len(in.EnvVars) > 0 {
		if m.EnvVars == nil {
			m.EnvVars = make(map[string]string, len(in.EnvVars))
		}
		for k, v := range in.EnvVars {
			m.EnvVars[k] = v
		}
	}
	if len(in.Secrets) > 0 {
		if m.Secrets == nil {
			m.Secrets = make(map[string]string, len(in.Secrets))
		}
		for k, v := range in.Secrets {
			m.Secrets[k] = v
		}
	}
	if len(in.Resources) > 0 {
		if m.Resources == nil {
			m.Resources = make(map[string]ResourceBinding, len(in.Resources))
		}
		for k, v := range in.Resources {
			m.Resources[k] = v
		}
	}
}
