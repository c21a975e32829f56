// Package providers loads the provider catalog, the closed set of workers
// conductor can route sub-tasks to.
package providers

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
)

// Loader provides catalog loading capabilities. It abstracts the source of
// the catalog so that files, embedded defaults, or remote configuration
// services can all supply it.
type Loader interface {
	// Load retrieves and validates the catalog.
	Load(ctx context.Context) (*domain.ProviderRegistry, error)
}

// Catalog is the on-disk shape of the provider catalog.
type Catalog struct {
	Providers []Entry `yaml:"providers"`
}

// Entry describes one provider.
type Entry struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Transport   string   `yaml:"transport"`
	Target      string   `yaml:"target"`
	TaskType    string   `yaml:"task_type,omitempty"`
	Kinds       []string `yaml:"kinds"`
	RateLimit   float64  `yaml:"rate_limit,omitempty"`
}

// FileLoader loads the catalog from a YAML file on disk.
type FileLoader struct {
	// path is the filesystem path to the catalog file.
	path string
}

// NewFileLoader creates a new FileLoader that will load the catalog from the
// specified file path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

var _ Loader = (*FileLoader)(nil)

// Load reads, parses and validates the catalog file.
func (l *FileLoader) Load(ctx context.Context) (*domain.ProviderRegistry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog into a validated registry. Unknown fields are
// rejected so that typos do not silently drop settings.
func Parse(data []byte) (*domain.ProviderRegistry, error) {
	var cat Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog: %w", err)
	}
	if len(cat.Providers) == 0 {
		return nil, fmt.Errorf("provider catalog lists no providers")
	}

	providers := make([]domain.Provider, 0, len(cat.Providers))
	for _, e := range cat.Providers {
		providers = append(providers, domain.Provider{
			ID:          e.ID,
			Description: e.Description,
			Transport:   domain.Transport(e.Transport),
			Target:      e.Target,
			TaskType:    e.TaskType,
			Kinds:       e.Kinds,
			RateLimit:   e.RateLimit,
		})
	}

	reg, err := domain.NewProviderRegistry(providers)
	if err != nil {
		return nil, fmt.Errorf("invalid provider catalog: %w", err)
	}
	return reg, nil
}
