package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectScopeIsUnordered(t *testing.T) {
	assert.Equal(t, DirectScope("alice", "bob"), DirectScope("bob", "alice"))
	assert.Equal(t, "direct:alice:bob", DirectScope("bob", "alice").Key())
}

func TestScopeKeys(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		key   string
	}{
		{"channel", ChannelScope("64b000000000000000000001"), "channel:64b000000000000000000001"},
		{"direct", DirectScope("alice", "bob"), "direct:alice:bob"},
		{"presence", PresenceScope(), "presence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.scope.Key())

			parsed, err := ParseScopeKey(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.scope, parsed)
		})
	}
}

func TestParseScopeKeyRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "channel:", "direct:alice", "direct::bob", "room:1", "channel"} {
		_, err := ParseScopeKey(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestScopeIsZero(t *testing.T) {
	assert.True(t, Scope{}.IsZero())
	assert.False(t, ChannelScope("x").IsZero())
}
