package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	payload := []byte(`{"results":[{"recall_number":"F-0001-2025"}]}`)
	first, err := h.Hash(payload)
	require.NoError(t, err)
	second, err := h.Hash(payload)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 64)

	other, err := h.Hash([]byte(`{"results":[]}`))
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}
