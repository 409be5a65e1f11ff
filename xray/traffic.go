package xray

import (
	"sort"
	"strconv"
	"strings"
)

const (
	statDelimiter  = ">>>"
	userStatPrefix = "user" + statDelimiter
)

// UserCounter is the uplink/downlink delta reported for one user since the
// engine's last reset.
type UserCounter struct {
	UserID   int64 `json:"uid"`
	Uplink   int64 `json:"uplink"`
	Downlink int64 `json:"downlink"`
}

// NamedCounter is one raw (name, value) pair from the engine's counter query.
type NamedCounter struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// ParseUserCounterName decodes a per-user counter name such as
// "user>>>42.alice>>>traffic>>>uplink". The link direction is taken from the
// last field, or from the third when the last one is a counter kind
// ("user>>>42>>>uplink>>>count"). Names outside the user category, with a
// non-numeric user prefix or an unknown direction are rejected.
func ParseUserCounterName(name string) (uid int64, link string, ok bool) {
	parts := strings.Split(name, statDelimiter)
	if len(parts) != 4 || parts[0] != "user" {
		return 0, "", false
	}

	switch {
	case isLink(parts[3]):
		link = parts[3]
	case isLink(parts[2]):
		link = parts[2]
	default:
		return 0, "", false
	}

	uid, ok = UserIDFromEmail(parts[1])
	if !ok {
		return 0, "", false
	}
	return uid, link, true
}

// UserIDFromEmail extracts the numeric user id from an "<id>.<username>" email.
func UserIDFromEmail(email string) (int64, bool) {
	prefix, _, _ := strings.Cut(email, ".")
	if prefix == "" {
		return 0, false
	}
	for i := 0; i < len(prefix); i++ {
		if prefix[i] < '0' || prefix[i] > '9' {
			return 0, false
		}
	}
	uid, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return uid, true
}

func isLink(s string) bool {
	return s == "uplink" || s == "downlink"
}

// GroupUserCounters folds raw counters into one UserCounter per user, ordered
// by user id. Counters that are not per-user traffic are skipped.
func GroupUserCounters(stats []NamedCounter) []UserCounter {
	byUser := make(map[int64]*UserCounter)
	for _, stat := range stats {
		uid, link, ok := ParseUserCounterName(stat.Name)
		if !ok || stat.Value <= 0 {
			continue
		}
		c, ok := byUser[uid]
		if !ok {
			c = &UserCounter{UserID: uid}
			byUser[uid] = c
		}
		if link == "uplink" {
			c.Uplink += stat.Value
		} else {
			c.Downlink += stat.Value
		}
	}

	result := make([]UserCounter, 0, len(byUser))
	for _, c := range byUser {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}
