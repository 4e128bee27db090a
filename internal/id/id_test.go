package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	got, err := Generate(PrefixDocument)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "doc-"))
	assert.Len(t, got, len("doc-")+21)
}

func TestGenerate_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		s := MustGenerate(PrefixJob)
		require.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
	}
}
