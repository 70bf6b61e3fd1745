package filemem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocBytesMonotone(t *testing.T) {
	m := New(nil)

	first := m.AllocBytes(128)
	second := m.AllocBytes(64)
	third := m.AllocBytes(1)

	assert.Equal(t, int64(0x12340000), first)
	assert.Equal(t, first+128, second)
	assert.Equal(t, second+64, third)

	// Free never reclaims: the next offset keeps climbing.
	m.FreeBytes(first, 128)
	assert.Equal(t, third+1, m.AllocBytes(8))
}

func TestAttachAndLookup(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	a, err := m.Attach(ctx, "mem://localhost/legion/a.bin", 100)
	require.NoError(t, err)
	b, err := m.Attach(ctx, "mem://localhost/legion/b.bin", 50)
	require.NoError(t, err)

	inst, rel, ok := m.Lookup(a.Offset + 10)
	require.True(t, ok)
	assert.Equal(t, a.ID, inst.ID)
	assert.Equal(t, int64(10), rel)

	inst, rel, ok = m.Lookup(b.Offset)
	require.True(t, ok)
	assert.Equal(t, b.ID, inst.ID)
	assert.Equal(t, int64(0), rel)

	// Past the last allocation.
	_, _, ok = m.Lookup(b.Offset + 50)
	assert.False(t, ok)
	// Before the first allocation.
	_, _, ok = m.Lookup(0)
	assert.False(t, ok)
}

func TestDetach(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	a, err := m.Attach(ctx, "mem://localhost/legion/c.bin", 10)
	require.NoError(t, err)
	require.NoError(t, m.Detach(ctx, a.ID))
	assert.Error(t, m.Detach(ctx, a.ID))

	// Detached offsets stay allocated; lookups just stop resolving.
	_, _, ok := m.Lookup(a.Offset)
	assert.False(t, ok)
}

func TestAttachInvalidSize(t *testing.T) {
	m := New(nil)
	_, err := m.Attach(context.Background(), "mem://localhost/legion/d.bin", 0)
	assert.Error(t, err)
}
