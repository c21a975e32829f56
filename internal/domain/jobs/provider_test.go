package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProviders() []Provider {
	return []Provider{
		{ID: "crawler", Transport: TransportKafka, Target: "work.crawler", Kinds: []string{"site-audit"}},
		{ID: "vision", Transport: TransportWebhook, Target: "http://vision/run", Kinds: []string{"site-audit", "image"}},
		{ID: "browser", Transport: TransportWebhook, Target: "http://browser/run", Kinds: []string{"image"}},
	}
}

func TestNewProviderRegistry_Validation(t *testing.T) {
	_, err := NewProviderRegistry([]Provider{
		{ID: "a", Transport: TransportKafka, Target: "t"},
		{ID: "a", Transport: TransportKafka, Target: "t"},
	})
	assert.ErrorContains(t, err, "duplicate id")

	_, err = NewProviderRegistry([]Provider{{ID: "b", Transport: "smtp", Target: "x"}})
	assert.ErrorContains(t, err, "unsupported transport")

	_, err = NewProviderRegistry([]Provider{{ID: "c", Transport: TransportWebhook}})
	assert.ErrorContains(t, err, "empty target")

	r, err := NewProviderRegistry(testProviders())
	require.NoError(t, err)
	p, ok := r.Get("crawler")
	require.True(t, ok)
	assert.Equal(t, "crawler", p.TaskType, "task type defaults to the id")
}

func TestProviderRegistry_Select(t *testing.T) {
	r, err := NewProviderRegistry(testProviders())
	require.NoError(t, err)

	tests := []struct {
		name     string
		kind     string
		explicit []string
		wantIDs  []string
		wantErr  error
	}{
		{name: "by kind in registration order", kind: "site-audit", wantIDs: []string{"crawler", "vision"}},
		{name: "explicit overrides kind", kind: "site-audit", explicit: []string{"browser"}, wantIDs: []string{"browser"}},
		{name: "explicit deduplicated", kind: "image", explicit: []string{"vision", "vision"}, wantIDs: []string{"vision"}},
		{name: "unknown explicit", kind: "image", explicit: []string{"nope"}, wantErr: ErrUnknownProvider},
		{name: "no provider for kind", kind: "audio", wantErr: ErrNoProviders},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Select(tt.kind, tt.explicit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}
