// Package store holds the in-memory attribution table joining per-user
// traffic counters with the last source address seen in the access log, and
// the per-user device history.
package store

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/konstpic/marznode-stats/xray"
)

// UserStats is one row of the attribution table. Values handed out by the
// Store are copies.
type UserStats struct {
	UserID     string    `json:"uid"`
	RemoteIP   string    `json:"remoteIp"`
	Uplink     int64     `json:"uplink"`
	Downlink   int64     `json:"downlink"`
	LastSeen   time.Time `json:"lastSeen"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Store is the attribution table. A single mutex guards the map and is held
// for one operation at a time, never across I/O.
type Store struct {
	mu    sync.Mutex
	users map[string]*UserStats
	now   func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users: make(map[string]*UserStats),
		now:   time.Now,
	}
}

// RecordConnection attributes rec's source address to its user. Records
// without a user are ignored, and so are records older than the newest one
// already applied, which makes replays after a tailer restart harmless.
// Counters are untouched. It reports whether the table changed.
func (s *Store) RecordConnection(rec xray.ConnectionRecord) bool {
	if rec.UserID == "" || rec.SourceIP == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.row(rec.UserID)
	if rec.Timestamp.Before(row.LastSeen) {
		return false
	}
	row.RemoteIP = rec.SourceIP
	row.LastSeen = rec.Timestamp
	row.LastUpdate = s.now()
	return true
}

// ApplyCounterDeltas adds each delta to the user's cumulative counters,
// creating rows as needed. It is not idempotent; exactly one scheduled
// collector may call it.
func (s *Store) ApplyCounterDeltas(deltas []xray.UserCounter) {
	if len(deltas) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, d := range deltas {
		if d.Uplink <= 0 && d.Downlink <= 0 {
			continue
		}
		row := s.row(strconv.FormatInt(d.UserID, 10))
		if d.Uplink > 0 {
			row.Uplink += d.Uplink
		}
		if d.Downlink > 0 {
			row.Downlink += d.Downlink
		}
		row.LastUpdate = now
	}
}

// Snapshot returns a copy of every row ordered by user id. With reset the
// counters are zeroed in the same critical section, so the returned values
// are the totals accumulated up to the reset.
func (s *Store) Snapshot(reset bool) []UserStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]UserStats, 0, len(s.users))
	for _, row := range s.users {
		result = append(result, *row)
		if reset {
			row.Uplink = 0
			row.Downlink = 0
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessUserID(result[i].UserID, result[j].UserID) })
	return result
}

// Get returns a copy of one row.
func (s *Store) Get(uid string) (UserStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[uid]
	if !ok {
		return UserStats{}, false
	}
	return *row, true
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Prune drops rows with no pending traffic that have not changed since cutoff.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for uid, row := range s.users {
		if row.Uplink == 0 && row.Downlink == 0 && row.LastUpdate.Before(cutoff) {
			delete(s.users, uid)
			removed++
		}
	}
	return removed
}

// row returns the row for uid, creating it. Callers hold s.mu.
func (s *Store) row(uid string) *UserStats {
	row, ok := s.users[uid]
	if !ok {
		row = &UserStats{UserID: uid}
		s.users[uid] = row
	}
	return row
}

// lessUserID orders numeric ids numerically and everything else lexically,
// numeric ids first.
func lessUserID(a, b string) bool {
	an, bn := isDigits(a), isDigits(b)
	switch {
	case an && bn:
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	case an != bn:
		return an
	default:
		return a < b
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
