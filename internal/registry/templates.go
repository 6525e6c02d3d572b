package registry

import (
	"fmt"
	"sync"

	"github.com/agentforge/runtime/internal/executor"
)

// TemplateCatalog is the in-memory TemplateRegistry implementation.
// The registry resolves a factory by (template_id, template_version)
// each time it builds a new instance, not at every Execute call; the
// resolved factory is not stored on the agent configuration.
//
// Generalized from the default-agent-catalog list this package is
// grounded on: that catalog held a fixed slice of container-image
// configs; here templates register themselves by (id, version) as
// templates/* packages are wired in.
type TemplateCatalog struct {
	mu    sync.RWMutex
	byKey map[string]executor.TemplateFactory
}

// NewTemplateCatalog returns an empty catalog.
func NewTemplateCatalog() *TemplateCatalog {
	return &TemplateCatalog{byKey: make(map[string]executor.TemplateFactory)}
}

func catalogKey(templateID, templateVersion string) string {
	return templateID + "@" + templateVersion
}

// Register binds a factory to a (template_id, template_version) pair.
func (c *TemplateCatalog) Register(templateID, templateVersion string, factory executor.TemplateFactory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKey[catalogKey(templateID, templateVersion)] = factory
}

// Resolve implements TemplateRegistry.
func (c *TemplateCatalog) Resolve(templateID, templateVersion string) (executor.TemplateFactory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	factory, ok := c.byKey[catalogKey(templateID, templateVersion)]
	if !ok {
		return nil, fmt.Errorf("registry: no template registered for %s@%s", templateID, templateVersion)
	}
	return factory, nil
}
