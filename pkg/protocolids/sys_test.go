package protocolids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAll_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range All() {
		assert.False(t, seen[string(p)], "duplicate protocol %s", p)
		seen[string(p)] = true
		assert.True(t, strings.HasPrefix(string(p), "/"), p)
	}
	assert.Len(t, All(), len(System())+1)
}
