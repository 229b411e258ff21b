package store

// ordered keeps items keyed by id in a stable order. It is not safe for
// concurrent use; the owning store guards it.
type ordered[T any] struct {
	keys  []string
	items map[string]T
	keyOf func(T) string
}

func newOrdered[T any](keyOf func(T) string) *ordered[T] {
	return &ordered[T]{items: make(map[string]T), keyOf: keyOf}
}

func (o *ordered[T]) Len() int { return len(o.keys) }

func (o *ordered[T]) Has(id string) bool {
	_, ok := o.items[id]
	return ok
}

func (o *ordered[T]) Get(id string) (T, bool) {
	v, ok := o.items[id]
	return v, ok
}

func (o *ordered[T]) Index(id string) int {
	if !o.Has(id) {
		return -1
	}
	for i, k := range o.keys {
		if k == id {
			return i
		}
	}
	return -1
}

// PushFront inserts v first, or replaces it in place when the id exists.
func (o *ordered[T]) PushFront(v T) {
	id := o.keyOf(v)
	if o.Has(id) {
		o.items[id] = v
		return
	}
	o.keys = append([]string{id}, o.keys...)
	o.items[id] = v
}

// Append inserts v last, or replaces it in place when the id exists.
func (o *ordered[T]) Append(v T) {
	id := o.keyOf(v)
	if o.Has(id) {
		o.items[id] = v
		return
	}
	o.keys = append(o.keys, id)
	o.items[id] = v
}

// Upsert is Append under a name that reads better at merge call sites.
func (o *ordered[T]) Upsert(v T) { o.Append(v) }

// Replace swaps the item stored under oldID for v at the same position.
// v may carry a different id. It reports false when oldID is absent.
func (o *ordered[T]) Replace(oldID string, v T) bool {
	idx := o.Index(oldID)
	if idx < 0 {
		return false
	}
	newID := o.keyOf(v)
	if newID != oldID && o.Has(newID) {
		// The new id is already present elsewhere; keep that position.
		o.Remove(oldID)
		o.items[newID] = v
		return true
	}
	delete(o.items, oldID)
	o.keys[idx] = newID
	o.items[newID] = v
	return true
}

func (o *ordered[T]) Remove(id string) bool {
	idx := o.Index(id)
	if idx < 0 {
		return false
	}
	o.keys = append(o.keys[:idx:idx], o.keys[idx+1:]...)
	delete(o.items, id)
	return true
}

// Reset drops every item and loads vs in order. Later duplicates replace
// earlier ones in place.
func (o *ordered[T]) Reset(vs []T) {
	o.keys = o.keys[:0:0]
	o.items = make(map[string]T, len(vs))
	for _, v := range vs {
		o.Append(v)
	}
}

// Values returns a copy in order.
func (o *ordered[T]) Values() []T {
	out := make([]T, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, o.items[k])
	}
	return out
}
