package pagination

import "sync"

// Accumulator collects pages of a listing as a "load more" view does.
//
// Pages are keyed by the cursor they were requested with ("" for the first
// page). Loading a page whose key was already seen under the same filter is a
// no-op. Loading under a different filter discards everything first.
type Accumulator[T any] struct {
	mu      sync.Mutex
	filter  string
	started bool
	items   []T
	loaded  map[string]struct{}
	next    string
	hasMore bool
}

// Load merges page (fetched with requestCursor under filter) and returns a
// snapshot of the accumulated items.
func (a *Accumulator[T]) Load(filter, requestCursor string, page Page[T]) []T {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || filter != a.filter {
		a.resetLocked(filter)
	}

	if _, dup := a.loaded[requestCursor]; !dup {
		a.loaded[requestCursor] = struct{}{}
		a.items = append(a.items, page.Items...)
		a.next = page.NextCursor
		a.hasMore = page.HasMore
	}

	return a.snapshotLocked()
}

// Reset empties the accumulator and binds it to filter.
func (a *Accumulator[T]) Reset(filter string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked(filter)
}

// Items returns a copy of everything accumulated so far.
func (a *Accumulator[T]) Items() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Filter is the filter the accumulated items were loaded under.
func (a *Accumulator[T]) Filter() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter
}

// NextCursor is the cursor to request for the following page.
func (a *Accumulator[T]) NextCursor() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next, a.hasMore
}

func (a *Accumulator[T]) resetLocked(filter string) {
	a.filter = filter
	a.started = true
	a.items = nil
	a.loaded = make(map[string]struct{})
	a.next = ""
	a.hasMore = false
}

func (a *Accumulator[T]) snapshotLocked() []T {
	out := make([]T, len(a.items))
	copy(out, a.items)
	return out
}
