package device

import (
	"github.com/google/btree"
)

const registryDegree = 8

// Registry is the set of registered devices ordered by name hash.
type Registry struct {
	tree *btree.BTreeG[*Device]
}

func lessByHash(a, b *Device) bool {
	return a.hash < b.hash
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tree: btree.NewG(registryDegree, lessByHash)}
}

// Insert adds dev. If a device with the same hash is already registered it is
// returned and dev is not inserted.
func (r *Registry) Insert(dev *Device) (existing *Device, ok bool) {
	if cur, found := r.tree.Get(dev); found {
		return cur, false
	}
	r.tree.ReplaceOrInsert(dev)
	return nil, true
}

// Remove deletes dev if it is the device registered under its hash.
func (r *Registry) Remove(dev *Device) bool {
	if cur, found := r.tree.Get(dev); !found || cur != dev {
		return false
	}
	r.tree.Delete(dev)
	return true
}

// Contains reports whether dev itself is registered.
func (r *Registry) Contains(dev *Device) bool {
	cur, found := r.tree.Get(dev)
	return found && cur == dev
}

// Min returns the device with the smallest hash, or nil if empty.
func (r *Registry) Min() *Device {
	dev, _ := r.tree.Min()
	return dev
}

// Next returns the device following dev in hash order, or nil at the end.
func (r *Registry) Next(dev *Device) *Device {
	var next *Device
	r.tree.AscendGreaterOrEqual(dev, func(d *Device) bool {
		if d.hash == dev.hash {
			return true
		}
		next = d
		return false
	})
	return next
}

// Each calls fn for every device in hash order until fn returns false.
func (r *Registry) Each(fn func(dev *Device) bool) {
	r.tree.Ascend(btree.ItemIteratorG[*Device](fn))
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return r.tree.Len()
}
