package providers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/conductor/internal/domain/jobs"
)

const catalog = `
providers:
  - id: search-web
    description: Web search worker
    transport: webhook
    target: http://search-web:9000/work
    kinds: [research]
    rate_limit: 5
  - id: archive
    description: Archive lookups over Kafka
    transport: kafka
    target: archive-work
    task_type: archive-lookup
    kinds: [research, audit]
`

func TestFileLoader_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))

	reg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "search-web", all[0].ID)
	assert.Equal(t, domain.TransportWebhook, all[0].Transport)
	assert.Equal(t, 5.0, all[0].RateLimit)
	assert.Equal(t, "search-web", all[0].TaskType, "task type defaults to the id")
	assert.Equal(t, "archive-lookup", all[1].TaskType)

	selected, err := reg.Select("audit", nil)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "archive", selected[0].ID)
}

func TestFileLoader_MissingFile(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background())
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "empty", yaml: "providers: []", wantErr: "no providers"},
		{name: "unknown field", yaml: "providers:\n  - id: a\n    transprt: kafka\n", wantErr: "transprt"},
		{name: "bad transport", yaml: "providers:\n  - id: a\n    transport: smtp\n    target: x\n", wantErr: "unsupported transport"},
		{name: "duplicate", yaml: "providers:\n  - {id: a, transport: kafka, target: t}\n  - {id: a, transport: kafka, target: t}\n", wantErr: "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
