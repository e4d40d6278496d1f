package mesh

import "time"

// RouteTable bounds and eviction parameters.
const (
	RouteTableCapacity = 20
	RouteTimeout       = 10 * time.Minute
	MaxHops            = 5
)

// RouteEntry records the next hop known to reach a destination, along with
// the hop count advertised when the route was learned and the time it was
// last refreshed.
type RouteEntry struct {
	DestID    uint8
	NextHop   uint8
	HopCount  uint8
	UpdatedAt time.Time
}

// routeTable is a fixed-capacity map of destination -> best known route.
// Eviction policy: when full and a new destination must be admitted, the
// entry with the oldest UpdatedAt is evicted. Refreshing an existing
// destination follows last-writer-wins: a later UpdateRoute call always
// replaces the previous entry for that destination, whether or not the new
// hop count is smaller.
type routeTable struct {
	entries map[uint8]*RouteEntry
	now     func() time.Time
}

func newRouteTable(now func() time.Time) *routeTable {
	return &routeTable{entries: make(map[uint8]*RouteEntry), now: now}
}

// Update applies last-writer-wins refresh, evicting the oldest entry first
// if the table is full and destID is new.
func (t *routeTable) Update(destID, nextHop, hopCount uint8) {
	if _, exists := t.entries[destID]; !exists && len(t.entries) >= RouteTableCapacity {
		t.evictOldest()
	}
	t.entries[destID] = &RouteEntry{
		DestID:    destID,
		NextHop:   nextHop,
		HopCount:  hopCount,
		UpdatedAt: t.now(),
	}
}

func (t *routeTable) evictOldest() {
	var oldestID uint8
	var oldestTime time.Time
	first := true
	for id, e := range t.entries {
		if first || e.UpdatedAt.Before(oldestTime) {
			oldestID, oldestTime, first = id, e.UpdatedAt, false
		}
	}
	if !first {
		delete(t.entries, oldestID)
	}
}

// Lookup returns the live route for destID, or ok=false if absent or expired.
// An expired entry is purged on lookup.
func (t *routeTable) Lookup(destID uint8) (*RouteEntry, bool) {
	e, ok := t.entries[destID]
	if !ok {
		return nil, false
	}
	if t.now().Sub(e.UpdatedAt) > RouteTimeout {
		delete(t.entries, destID)
		return nil, false
	}
	return e, true
}

// Purge drops all expired entries. Intended to be called periodically
// alongside beacon emission.
func (t *routeTable) Purge() {
	for id, e := range t.entries {
		if t.now().Sub(e.UpdatedAt) > RouteTimeout {
			delete(t.entries, id)
		}
	}
}

func (t *routeTable) Len() int {
	return len(t.entries)
}
