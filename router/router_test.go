package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRouterAddAndRemoveNextHop(t *testing.T) {
	r := NewInMemoryRouter()
	r.AddNextHop("p1", "addr://one")

	addr, ok := r.AddressFor("p1")
	require.True(t, ok)
	assert.Equal(t, "addr://one", addr)

	removed := false
	r.RemoveNextHop("p1", func() { removed = true }, func(err error) {
		t.Fatalf("unexpected error: %v", err)
	})
	assert.True(t, removed)

	_, ok = r.AddressFor("p1")
	assert.False(t, ok)
}
