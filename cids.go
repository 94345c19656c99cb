package quicore

import (
	"sync"

	"github.com/nitishtalasu/msquic/internal/protocol"
)

// cidEntry is one connection ID known to either table, along with the
// sequence number it was issued under and (for source CIDs we hand
// out) the stateless reset token that accompanies it.
type cidEntry struct {
	seq         uint64
	cid         protocol.ConnectionID
	resetToken  protocol.StatelessResetToken
	retired     bool
}

// cidTable is a list of connection IDs, used both for the CIDs this
// side has offered the peer (source table) and the CIDs the peer has
// offered us (destination table). Entries are kept in the order they
// were added; "retire everything below N" (NEW_CONNECTION_ID's
// RetirePriorTo and RETIRE_CONNECTION_ID) scans every entry (spec §3
// CIDs, §4.8 "Connection ID management").
type cidTable struct {
	mu               sync.Mutex
	entries          []*cidEntry
	limit            int
	ignoredOverLimit int
}

func newCidTable(limit int) *cidTable {
	return &cidTable{limit: limit}
}

// Add appends a new entry for seq, unless the table is already at its
// active-CID limit. Per spec §4.4, a NEW_CONNECTION_ID that would push
// the peer over ActiveCidLimit is not a protocol violation: it is
// silently ignored (counted, never errored).
func (t *cidTable) Add(seq uint64, cid protocol.ConnectionID, resetToken protocol.StatelessResetToken) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.seq == seq {
			return nil
		}
	}
	active := 0
	for _, e := range t.entries {
		if !e.retired {
			active++
		}
	}
	if active >= t.limit {
		t.ignoredOverLimit++
		return nil
	}
	t.entries = append(t.entries, &cidEntry{seq: seq, cid: cid, resetToken: resetToken})
	return nil
}

// RetirePriorTo marks every entry with seq < upTo retired, returning
// the sequence numbers newly retired so the caller can emit
// RETIRE_CONNECTION_ID frames for each (spec §4.4 NEW_CONNECTION_ID's
// Retire Prior To field).
func (t *cidTable) RetirePriorTo(upTo uint64) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var retired []uint64
	for _, e := range t.entries {
		if !e.retired && e.seq < upTo {
			e.retired = true
			retired = append(retired, e.seq)
		}
	}
	t.compact()
	return retired
}

func (t *cidTable) Retire(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.seq == seq {
			e.retired = true
		}
	}
	t.compact()
}

func (t *cidTable) compact() {
	live := t.entries[:0]
	for _, e := range t.entries {
		if !e.retired {
			live = append(live, e)
		}
	}
	t.entries = live
}

// Active returns the lowest-sequence non-retired entry, the one the
// connection should currently be using.
func (t *cidTable) Active() (*cidEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *cidEntry
	for _, e := range t.entries {
		if e.retired {
			continue
		}
		if best == nil || e.seq < best.seq {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func (t *cidTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if !e.retired {
			n++
		}
	}
	return n
}
