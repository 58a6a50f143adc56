package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/ruteri/resource-store/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringFrontend_Identifiers(t *testing.T) {
	tests := []struct {
		identifier string
		valid      bool
	}{
		{"report-1", true},
		{"collection_persistent", true},
		{"%KVBE%pages", true},
		{"a&b", true},
		{strings.Repeat("x", 250), true},
		{strings.Repeat("x", 251), false},
		{"", false},
		{"with space", false},
		{"slash/inside", false},
		{"dot.inside", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidEntryIdentifier(tt.identifier), tt.identifier)
		assert.Equal(t, tt.valid, IsValidTag(tt.identifier), tt.identifier)
	}
}

func TestStringFrontend(t *testing.T) {
	f := NewStringFrontend(newTestBackend("pages", NewMemoryStore(), WithDefaultLifetime(time.Hour)))
	assert.Equal(t, "pages", f.Identifier())

	require.NoError(t, f.Set("a", "alpha", []string{"letters"}, DefaultLifetime))
	require.NoError(t, f.Set("b", []byte("beta"), []string{"letters"}, 0))

	value, ok, err := f.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alpha", value)

	_, ok, err = f.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	byTag, err := f.GetByTag("letters")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "alpha", "b": "beta"}, byTag)

	removed, err := f.FlushByTag("letters")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	has, err := f.Has("a")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, f.Set("c", "gamma", nil, 0))
	removed2, err := f.Remove("c")
	require.NoError(t, err)
	assert.True(t, removed2)

	require.NoError(t, f.Set("d", "delta", nil, 0))
	require.NoError(t, f.Flush())
	has, _ = f.Has("d")
	assert.False(t, has)
}

func TestStringFrontend_Rejects(t *testing.T) {
	f := NewStringFrontend(newTestBackend("pages", NewMemoryStore()))

	assert.ErrorIs(t, f.Set("a", 42, nil, 0), interfaces.ErrInvalidPayload)
	assert.ErrorIs(t, f.Set("a", map[string]string{}, nil, 0), interfaces.ErrInvalidPayload)
	assert.ErrorIs(t, f.Set("bad id", "x", nil, 0), interfaces.ErrInvalidArgument)
	assert.ErrorIs(t, f.Set("a", "x", []string{"bad tag"}, 0), interfaces.ErrInvalidArgument)

	_, _, err := f.Get("bad id")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
	_, err = f.FlushByTag("")
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	has, err := f.Has("a")
	require.NoError(t, err)
	assert.False(t, has, "rejected writes leave nothing behind")
}

func TestStringFrontend_NoBackingStore(t *testing.T) {
	f := NewStringFrontend(NewBackend("pages", "rs_x_", nil))
	assert.ErrorIs(t, f.Set("a", "x", nil, 0), interfaces.ErrNoBackingStore)
	assert.ErrorIs(t, f.Flush(), interfaces.ErrNoBackingStore)
}
