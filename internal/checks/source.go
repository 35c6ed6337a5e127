package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/canopy-ai/canopy/internal/model"
)

// Source supplies check configurations for scheduling and evaluation.
type Source interface {
	EnabledChecks(ctx context.Context, projectID string) ([]model.CheckConfig, error)
}

// StaticSource holds check configurations in memory, loaded at startup.
type StaticSource struct {
	mu      sync.RWMutex
	configs []model.CheckConfig
}

// NewStaticSource creates a source over a fixed config set.
func NewStaticSource(configs []model.CheckConfig) *StaticSource {
	return &StaticSource{configs: configs}
}

// LoadSource reads a JSON array of check configurations from a file.
func LoadSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checks: read config file: %w", err)
	}
	var configs []model.CheckConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("checks: parse config file: %w", err)
	}
	return NewStaticSource(configs), nil
}

// EnabledChecks returns the enabled configs scoped to projectID. A
// config with an empty project_id applies to every project.
func (s *StaticSource) EnabledChecks(_ context.Context, projectID string) ([]model.CheckConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CheckConfig
	for _, cfg := range s.configs {
		if !cfg.Enabled {
			continue
		}
		if cfg.ProjectID != "" && cfg.ProjectID != projectID {
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Find returns the config with the given id for a project, enabled or
// not, or false.
func (s *StaticSource) Find(_ context.Context, projectID, checkID string) (model.CheckConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.configs {
		if cfg.ID != checkID {
			continue
		}
		if cfg.ProjectID != "" && cfg.ProjectID != projectID {
			continue
		}
		return cfg, true
	}
	return model.CheckConfig{}, false
}
