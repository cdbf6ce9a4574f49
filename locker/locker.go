/*
Package locker serializes writes per medication.

WHY A LOCK AT ALL:
  The projection's compare-and-swap decrement already keeps a balance from
  going negative. The lock additionally serializes whole operations on a
  medication (edit = restore + retire + re-dispense) so concurrent edits of
  the same transaction group see each other's effects in order.

IMPLEMENTATIONS:
  Local: in-process keyed mutex (single server)
  Redis: bsm/redislock, for several servers sharing one database

ORDERING:
  Lock(ctx, keys...) sorts and de-duplicates keys before acquiring, so two
  callers locking {A, B} and {B, A} cannot deadlock. Unlock releases in
  reverse order.
*/
package locker

import (
	"context"
	"sort"
)

// Locker acquires a set of named locks.
type Locker interface {
	// Lock blocks until every key is held or ctx is done. The returned
	// function releases all of them and is safe to call once.
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// normalize sorts keys and drops duplicates and blanks.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
