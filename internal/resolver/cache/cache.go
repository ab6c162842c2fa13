/*
Package cache implements the two bounded, per-address-family LRU maps that back the resolver's
name-to-address cache. It is the Go analogue of the ipv4_cache/ipv6_cache pair in the original
dns_client, rebuilt on top of github.com/hashicorp/golang-lru/v2 rather than hand-rolled LRU/
binary-search machinery.

An Entry never mixes address families: the family of its first address is the family of the
whole entry and therefore which of the two maps holds it. Rotation (see Store.Optimize) always
uses a linear scan to find the address being promoted - earlier implementations of this idea used
a sorted binary search, which silently broke as soon as a previous rotation left the slice
unsorted. That bug is not reproduced here.
*/
package cache

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const me = "resolver/cache"

// Entry is a cached resolution result: a non-empty, single-family sequence of addresses and the
// absolute instant at which it stops being usable. The first address is the one most recently
// observed to connect successfully, or the resolver's natural answer order if no feedback has
// been recorded yet.
type Entry struct {
	Addrs    []net.IP
	Deadline time.Time
}

// Expired reports whether this entry is no longer usable as of 'now'.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.Deadline)
}

// family returns 4 or 6 for a well-formed, non-empty address sequence, or 0 if e is nil/empty.
func (e *Entry) family() int {
	if e == nil || len(e.Addrs) == 0 {
		return 0
	}
	if e.Addrs[0].To4() != nil {
		return 4
	}

	return 6
}

// Store is the bounded LRU pair keyed by hostname (exact match, case sensitive, as received). One
// map holds v4 entries, the other v6; a host can in principle have an entry in both at once, they
// are entirely independent as far as capacity and eviction are concerned.
type Store struct {
	v4 *lru.Cache[string, *Entry]
	v6 *lru.Cache[string, *Entry]

	mu    sync.Mutex // Protects the stats below; the two lru.Caches lock themselves internally.
	stats stats
}

type stats struct {
	hits4, hits6     int
	misses           int
	expired          int
	inserts          int
	rotations        int
	rotationsSkipped int
}

// NewStore constructs a Store whose two maps each hold up to 'capacity' entries. Capacity must be
// positive.
func NewStore(capacity int) (*Store, error) {
	v4, err := lru.New[string, *Entry](capacity)
	if err != nil {
		return nil, err
	}
	v6, err := lru.New[string, *Entry](capacity)
	if err != nil {
		return nil, err
	}

	return &Store{v4: v4, v6: v6}, nil
}

// LookupResult communicates the three-way outcome of Lookup, distinct from a plain
// ([]net.IP, error) pair because "expired" and "miss" are not errors at all - they are signals to
// the caller to re-resolve.
type LookupResult int

const (
	Hit LookupResult = iota
	Miss
	Expired
)

// Lookup consults whichever of the v4/v6 maps the IPv6 policy says to consult, in the specified
// order. When both families are consulted and both are present, the addresses of the first
// consulted family are returned ahead of the second. If *any* consulted entry exists but is
// expired, the whole lookup fails as Expired - a conservative policy that prevents serving a
// fresh family's answer alongside a stale one.
func (s *Store) Lookup(host string, enableIPv6, preferIPv6 bool, now time.Time) ([]net.IP, LookupResult) {
	families := s.familyOrder(enableIPv6, preferIPv6)

	var result []net.IP
	sawAny := false
	for _, fam := range families {
		m := s.mapFor(fam)
		e, ok := m.Get(host)
		if !ok {
			continue
		}
		sawAny = true
		if e.Expired(now) {
			s.mu.Lock()
			s.stats.expired++
			s.mu.Unlock()
			return nil, Expired
		}
		result = append(result, e.Addrs...)
		s.mu.Lock()
		if fam == 4 {
			s.stats.hits4++
		} else {
			s.stats.hits6++
		}
		s.mu.Unlock()
	}

	if !sawAny {
		s.mu.Lock()
		s.stats.misses++
		s.mu.Unlock()
		return nil, Miss
	}

	return result, Hit
}

// familyOrder returns which of {4,6} to consult, and in what order, for the given policy.
func (s *Store) familyOrder(enableIPv6, preferIPv6 bool) []int {
	if !enableIPv6 {
		return []int{4}
	}
	if preferIPv6 {
		return []int{6, 4}
	}

	return []int{4, 6}
}

func (s *Store) mapFor(family int) *lru.Cache[string, *Entry] {
	if family == 6 {
		return s.v6
	}

	return s.v4
}

// Insert stores e under host in whichever map matches e's address family. A nil or empty entry is
// a no-op.
func (s *Store) Insert(host string, e *Entry) {
	fam := e.family()
	if fam == 0 {
		return
	}
	s.mapFor(fam).Add(host, e)
	s.mu.Lock()
	s.stats.inserts++
	s.mu.Unlock()
}

// Rotate promotes 'addr' to the front of host's cached sequence, in whichever map holds it. If
// addr is absent from the sequence, or already first, the entry is left untouched. The index of
// addr is always found with a linear scan - never a binary search - because rotation can leave
// the sequence unsorted with respect to any ordering a binary search would rely on.
func (s *Store) Rotate(host string, addr net.IP) {
	fam := 4
	if addr.To4() == nil {
		fam = 6
	}
	m := s.mapFor(fam)

	e, ok := m.Get(host)
	if !ok {
		return
	}

	idx := -1
	for i, a := range e.Addrs {
		if a.Equal(addr) {
			idx = i
			break
		}
	}

	if idx <= 0 { // Absent (-1) or already first (0): nothing to do.
		s.mu.Lock()
		s.stats.rotationsSkipped++
		s.mu.Unlock()
		return
	}

	rotated := make([]net.IP, 0, len(e.Addrs))
	rotated = append(rotated, e.Addrs[idx:]...)
	rotated = append(rotated, e.Addrs[:idx]...)

	newEntry := &Entry{Addrs: rotated, Deadline: e.Deadline}
	m.Add(host, newEntry)
	s.mu.Lock()
	s.stats.rotations++
	s.mu.Unlock()
}

// Name meets the reporter.Reporter interface.
func (s *Store) Name() string {
	return me
}

// Report meets the reporter.Reporter interface.
func (s *Store) Report(resetCounters bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	str := formatStats(s.stats, s.v4.Len(), s.v6.Len())
	if resetCounters {
		s.stats = stats{}
	}

	return str
}
