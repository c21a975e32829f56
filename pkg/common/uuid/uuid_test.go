package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsVersion7AndOrdered(t *testing.T) {
	a := New()
	b := New()

	assert.Equal(t, 7, int(a.Version()))
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, a.String()[:8], b.String()[:8])
}

func TestParse(t *testing.T) {
	id := New()
	got, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = Parse("not-a-uuid")
	assert.Error(t, err)
}
