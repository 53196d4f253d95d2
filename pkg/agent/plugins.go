package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/models"
)

// Plugin observes session lifecycle milestones. All fields are optional; a
// nil hook is skipped.
type Plugin struct {
	Name string

	OnRegister   func(ctx context.Context, s *Session) error
	OnUnregister func(ctx context.Context, s *Session) error
	OnInitialize func(ctx context.Context, s *Session) error

	BeforeFilesGenerated func(ctx context.Context, s *Session, phaseName string) error
	AfterFilesGenerated  func(ctx context.Context, s *Session, phaseName string, paths []string) error

	BeforeDeployment func(ctx context.Context, s *Session) error
	AfterDeployment  func(ctx context.Context, s *Session, previewURL string) error

	OnGenerationStart    func(ctx context.Context, s *Session) error
	OnGenerationComplete func(ctx context.Context, s *Session) error

	OnError       func(ctx context.Context, s *Session, err error, context string)
	OnStateUpdate func(ctx context.Context, s *Session, old, new models.SessionState)
}

// PluginManager runs hooks in registration order. A failing hook is logged
// and aggregated; it never stops later hooks and never propagates to the
// session's own operation.
type PluginManager struct {
	mu      sync.Mutex
	plugins []*Plugin
	log     *slog.Logger
}

// NewPluginManager creates an empty manager.
func NewPluginManager(log *slog.Logger) *PluginManager {
	if log == nil {
		log = slog.Default()
	}
	return &PluginManager{log: log}
}

// Register adds a plugin. Registering a duplicate name warns and is a no-op.
func (m *PluginManager) Register(ctx context.Context, s *Session, p *Plugin) {
	if p == nil || p.Name == "" {
		m.log.Warn("Ignoring plugin without a name")
		return
	}
	m.mu.Lock()
	for _, existing := range m.plugins {
		if existing.Name == p.Name {
			m.mu.Unlock()
			m.log.Warn("Plugin already registered", "plugin", p.Name)
			return
		}
	}
	m.plugins = append(m.plugins, p)
	m.mu.Unlock()

	if p.OnRegister != nil {
		if err := p.OnRegister(ctx, s); err != nil {
			m.log.Error("Plugin register hook failed", "plugin", p.Name, "error", err)
		}
	}
}

// Unregister removes a plugin by name.
func (m *PluginManager) Unregister(ctx context.Context, s *Session, name string) {
	m.mu.Lock()
	var removed *Plugin
	kept := m.plugins[:0]
	for _, p := range m.plugins {
		if p.Name == name && removed == nil {
			removed = p
			continue
		}
		kept = append(kept, p)
	}
	m.plugins = kept
	m.mu.Unlock()

	if removed != nil && removed.OnUnregister != nil {
		if err := removed.OnUnregister(ctx, s); err != nil {
			m.log.Error("Plugin unregister hook failed", "plugin", name, "error", err)
		}
	}
}

// Names returns the registered plugin names in order.
func (m *PluginManager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.plugins))
	for i, p := range m.plugins {
		out[i] = p.Name
	}
	return out
}

func (m *PluginManager) snapshot() []*Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Plugin(nil), m.plugins...)
}

// fire runs one hook across all plugins, aggregating failures.
func (m *PluginManager) fire(hookName string, fn func(p *Plugin) error) error {
	var errs []error
	for _, p := range m.snapshot() {
		if err := fn(p); err != nil {
			m.log.Error("Plugin hook failed", "plugin", p.Name, "hook", hookName, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *PluginManager) onInitialize(ctx context.Context, s *Session) error {
	return m.fire("onInitialize", func(p *Plugin) error {
		if p.OnInitialize == nil {
			return nil
		}
		return p.OnInitialize(ctx, s)
	})
}

func (m *PluginManager) beforeFilesGenerated(ctx context.Context, s *Session, phase string) error {
	return m.fire("beforeFilesGenerated", func(p *Plugin) error {
		if p.BeforeFilesGenerated == nil {
			return nil
		}
		return p.BeforeFilesGenerated(ctx, s, phase)
	})
}

func (m *PluginManager) afterFilesGenerated(ctx context.Context, s *Session, phase string, paths []string) error {
	return m.fire("afterFilesGenerated", func(p *Plugin) error {
		if p.AfterFilesGenerated == nil {
			return nil
		}
		return p.AfterFilesGenerated(ctx, s, phase, paths)
	})
}

func (m *PluginManager) beforeDeployment(ctx context.Context, s *Session) error {
	return m.fire("beforeDeployment", func(p *Plugin) error {
		if p.BeforeDeployment == nil {
			return nil
		}
		return p.BeforeDeployment(ctx, s)
	})
}

func (m *PluginManager) afterDeployment(ctx context.Context, s *Session, previewURL string) error {
	return m.fire("afterDeployment", func(p *Plugin) error {
		if p.AfterDeployment == nil {
			return nil
		}
		return p.AfterDeployment(ctx, s, previewURL)
	})
}

func (m *PluginManager) onGenerationStart(ctx context.Context, s *Session) error {
	return m.fire("onGenerationStart", func(p *Plugin) error {
		if p.OnGenerationStart == nil {
			return nil
		}
		return p.OnGenerationStart(ctx, s)
	})
}

func (m *PluginManager) onGenerationComplete(ctx context.Context, s *Session) error {
	return m.fire("onGenerationComplete", func(p *Plugin) error {
		if p.OnGenerationComplete == nil {
			return nil
		}
		return p.OnGenerationComplete(ctx, s)
	})
}

func (m *PluginManager) onError(ctx context.Context, s *Session, err error, where string) {
	for _, p := range m.snapshot() {
		if p.OnError != nil {
			p.OnError(ctx, s, err, where)
		}
	}
}

func (m *PluginManager) onStateUpdate(ctx context.Context, s *Session, old, new models.SessionState) {
	for _, p := range m.snapshot() {
		if p.OnStateUpdate != nil {
			p.OnStateUpdate(ctx, s, old, new)
		}
	}
}
