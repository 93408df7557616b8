package marketdata

import "sync"

// EntitlementKey names the class of data a grant covers. For book quotes both
// fields are set because an entry's originating venue may differ from the
// security's primary market and the two are independently grantable; for every
// other kind Origin equals Market.
type EntitlementKey struct {
	Market Market
	Origin Market
}

// MarketEntitlementKey builds the key used for imbalances, BBO, market quotes
// and time and sales.
func MarketEntitlementKey(m Market) EntitlementKey {
	return EntitlementKey{Market: m, Origin: m}
}

// BookEntitlementKey builds the key used for book quotes: the security's
// primary market paired with the venue the entry originates from.
func BookEntitlementKey(destination, origin Market) EntitlementKey {
	return EntitlementKey{Market: destination, Origin: origin}
}

type entitlementGrant struct {
	key  EntitlementKey
	kind DataKind
}

// EntitlementEntry is one permission an entitlement group confers.
type EntitlementEntry struct {
	Key   EntitlementKey
	Kinds []DataKind
}

// EntitlementSchedule is the static definition of entitlement groups: the set
// of (key, kind) permissions each named group confers.
type EntitlementSchedule map[string][]EntitlementEntry

// EntitlementTable maps each subscriber's granted groups to the concrete
// permissions the relay checks on the hot path. Reads take a shared lock;
// mutation only happens on session setup and teardown.
type EntitlementTable struct {
	mu       sync.RWMutex
	schedule EntitlementSchedule
	grants   map[string]map[entitlementGrant]struct{}
}

// NewEntitlementTable builds a table over the given static schedule.
func NewEntitlementTable(schedule EntitlementSchedule) *EntitlementTable {
	return &EntitlementTable{
		schedule: schedule,
		grants:   make(map[string]map[entitlementGrant]struct{}),
	}
}

// Activate reconciles a subscriber's granted groups against the schedule and
// installs the resulting permissions. Groups missing from the schedule are
// ignored.
func (t *EntitlementTable) Activate(subscriber string, groups ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[subscriber]
	if !ok {
		set = make(map[entitlementGrant]struct{})
		t.grants[subscriber] = set
	}
	for _, group := range groups {
		for _, entry := range t.schedule[group] {
			for _, kind := range entry.Kinds {
				set[entitlementGrant{key: entry.Key, kind: kind}] = struct{}{}
			}
		}
	}
}

// Grant installs a single permission directly, bypassing the schedule.
func (t *EntitlementTable) Grant(subscriber string, key EntitlementKey, kinds ...DataKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[subscriber]
	if !ok {
		set = make(map[entitlementGrant]struct{})
		t.grants[subscriber] = set
	}
	for _, kind := range kinds {
		set[entitlementGrant{key: key, kind: kind}] = struct{}{}
	}
}

// Deactivate removes every permission held by a subscriber.
func (t *EntitlementTable) Deactivate(subscriber string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.grants, subscriber)
}

// HasEntitlement reports whether the subscriber may receive data of the given
// kind under the given key.
func (t *EntitlementTable) HasEntitlement(subscriber string, key EntitlementKey, kind DataKind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set, ok := t.grants[subscriber]
	if !ok {
		return false
	}
	_, ok = set[entitlementGrant{key: key, kind: kind}]
	return ok
}
