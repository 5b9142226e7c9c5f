// Package correlation maps connection-scoped transaction identifiers to global
// session ids.
//
// OCPP 1.6 stations quote a small integer that this process issues, counting up
// from 1 per station. OCPP 2.0.1 stations pick their own string transaction id.
// Neither is unique across stations, so both are kept per station identity.
package correlation

import "sync"

type Table struct {
	mu    sync.Mutex
	conns map[string]*entries
}

type entries struct {
	next  int
	byInt map[int]string
	byKey map[string]string
}

func New() *Table {
	return &Table{conns: make(map[string]*entries)}
}

func (t *Table) forStation(identity string) *entries {
	e, ok := t.conns[identity]
	if !ok {
		e = &entries{byInt: make(map[int]string), byKey: make(map[string]string)}
		t.conns[identity] = e
	}
	return e
}

// Issue allocates the next transaction id for identity and binds it to sessionID.
func (t *Table) Issue(identity, sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.forStation(identity)
	for {
		e.next++
		if _, taken := e.byInt[e.next]; !taken {
			break
		}
	}
	e.byInt[e.next] = sessionID
	return e.next
}

func (t *Table) Lookup(identity string, txID int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[identity]
	if !ok {
		return "", false
	}
	id, ok := e.byInt[txID]
	return id, ok
}

func (t *Table) Release(identity string, txID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.conns[identity]; ok {
		delete(e.byInt, txID)
	}
}

// Bind records a station-chosen transaction id. It returns false and leaves the
// table unchanged when the key is already bound to another session.
func (t *Table) Bind(identity, key, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.forStation(identity)
	if cur, ok := e.byKey[key]; ok && cur != sessionID {
		return false
	}
	e.byKey[key] = sessionID
	return true
}

func (t *Table) LookupKey(identity, key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[identity]
	if !ok {
		return "", false
	}
	id, ok := e.byKey[key]
	return id, ok
}

func (t *Table) ReleaseKey(identity, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.conns[identity]; ok {
		delete(e.byKey, key)
	}
}

// TransactionFor finds the 1.6 transaction id or 2.0.1 key bound to sessionID.
func (t *Table) TransactionFor(identity, sessionID string) (txID int, key string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.conns[identity]
	if !found {
		return 0, "", false
	}
	for id, s := range e.byInt {
		if s == sessionID {
			return id, "", true
		}
	}
	for k, s := range e.byKey {
		if s == sessionID {
			return 0, k, true
		}
	}
	return 0, "", false
}

// Live counts bound transactions for identity.
func (t *Table) Live(identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.conns[identity]
	if !ok {
		return 0
	}
	return len(e.byInt) + len(e.byKey)
}
