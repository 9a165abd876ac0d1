package rotation

import (
	"fmt"
	"sort"

	"github.com/systmms/keyrot/pkg/keystore"
)

// Kind names the action a rotation step takes
type Kind string

const (
	KindCreate     Kind = "create"
	KindInvalidate Kind = "invalidate"
	KindDelete     Kind = "delete"
	KindFatal      Kind = "fatal"
)

// MaxKeys is the most keys a principal may hold between steps
const MaxKeys = 2

// Action is the outcome of Decide. KeyID is set for invalidate and delete,
// Reason for fatal.
type Action struct {
	Kind   Kind
	KeyID  string
	Reason string
}

func (a Action) String() string {
	switch a.Kind {
	case KindInvalidate, KindDelete:
		return fmt.Sprintf("%s %s", a.Kind, a.KeyID)
	case KindFatal:
		return fmt.Sprintf("%s: %s", a.Kind, a.Reason)
	default:
		return string(a.Kind)
	}
}

// SortNewestFirst returns a copy of keys ordered by CreatedAt, newest first.
// Keys with equal timestamps keep their input order.
func SortNewestFirst(keys []keystore.AccessKey) []keystore.AccessKey {
	sorted := make([]keystore.AccessKey, len(keys))
	copy(sorted, keys)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

// Decide picks the single action for a principal's current keys. It never
// looks at the newer key of a pair, so the key in use is never touched.
func Decide(keys []keystore.AccessKey) Action {
	sorted := SortNewestFirst(keys)

	switch {
	case len(sorted) > MaxKeys:
		return Action{Kind: KindFatal, Reason: fmt.Sprintf("too many keys: %d, at most %d allowed", len(sorted), MaxKeys)}
	case len(sorted) < MaxKeys:
		return Action{Kind: KindCreate}
	}

	older := sorted[1]
	switch older.Status {
	case keystore.StatusActive:
		return Action{Kind: KindInvalidate, KeyID: older.ID}
	case keystore.StatusInactive:
		return Action{Kind: KindDelete, KeyID: older.ID}
	default:
		return Action{Kind: KindFatal, KeyID: older.ID, Reason: fmt.Sprintf("unexpected status %q on key %s", older.Status, older.ID)}
	}
}
