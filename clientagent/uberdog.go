package clientagent

import (
	"gatekeep/dclass"
	. "gatekeep/wire"
	"sync"
)

// Uberdog is a well-known object discoverable without an interest: a
// fixed id, its class, and whether anonymous (pre-auth) clients may
// address it.
type Uberdog struct {
	Class     *dclass.Class
	Anonymous bool
}

// UberdogTable is the process-wide, read-only-after-startup map of
// uberdog ids populated once from configuration. Safe for concurrent
// reads; Add is intended to run only during role startup before any
// session can observe the table.
type UberdogTable struct {
	mu  sync.RWMutex
	byID map[Doid_t]Uberdog
}

func NewUberdogTable() *UberdogTable {
	return &UberdogTable{byID: make(map[Doid_t]Uberdog)}
}

func (t *UberdogTable) Add(id Doid_t, class *dclass.Class, anonymous bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[id] = Uberdog{Class: class, Anonymous: anonymous}
}

func (t *UberdogTable) Lookup(id Doid_t) (Uberdog, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.byID[id]
	return u, ok
}
