package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory()
	require.NoError(t, err)
	return m
}

func TestMemoryCatalog(t *testing.T) {
	runCatalogTests(t, func(t *testing.T) backend { return newMemory(t) })
}
