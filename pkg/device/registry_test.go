package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Min())

	devs := map[uint64]*Device{}
	for _, h := range []uint64{30, 10, 50, 20, 40} {
		dev := &Device{name: "dev", hash: h}
		_, ok := r.Insert(dev)
		require.True(t, ok)
		devs[h] = dev
	}
	require.Equal(t, 5, r.Len())

	var order []uint64
	for dev := r.Min(); dev != nil; dev = r.Next(dev) {
		order = append(order, dev.hash)
	}
	assert.Equal(t, []uint64{10, 20, 30, 40, 50}, order)

	dup := &Device{hash: 20}
	existing, ok := r.Insert(dup)
	assert.False(t, ok)
	assert.Same(t, devs[20], existing)

	// Only the registered device itself can be removed.
	assert.False(t, r.Remove(dup))
	assert.True(t, r.Contains(devs[20]))
	assert.True(t, r.Remove(devs[20]))
	assert.False(t, r.Contains(devs[20]))

	// Successor of a removed device is still well defined.
	assert.Same(t, devs[30], r.Next(devs[20]))
	assert.Same(t, devs[40], r.Next(devs[30]))
	assert.Nil(t, r.Next(devs[50]))
}
