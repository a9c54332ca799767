package browser

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultRefStoreSize = 50

var refPattern = regexp.MustCompile(`^e\d+$`)

// RefStore remembers the refs of the most recent snapshot per page target.
// Old targets are evicted least-recently-used first.
type RefStore struct {
	cache *lru.Cache[string, map[string]RoleRef]
}

// NewRefStore creates a RefStore holding up to size targets (0 = default).
func NewRefStore(size int) *RefStore {
	if size <= 0 {
		size = defaultRefStoreSize
	}
	c, err := lru.New[string, map[string]RoleRef](size)
	if err != nil {
		// only fails for size <= 0
		panic(err)
	}
	return &RefStore{cache: c}
}

// Store replaces the refs for a target.
func (rs *RefStore) Store(targetID string, refs map[string]RoleRef) {
	rs.cache.Add(targetID, refs)
}

// Resolve looks up a ref ("e5", "@e5" or "ref=e5") for a target.
func (rs *RefStore) Resolve(targetID, ref string) (RoleRef, bool) {
	refs, ok := rs.cache.Get(targetID)
	if !ok {
		return RoleRef{}, false
	}
	r, ok := refs[NormalizeRef(ref)]
	return r, ok
}

// Forget drops the refs of a target, e.g. after it navigated away.
func (rs *RefStore) Forget(targetID string) {
	rs.cache.Remove(targetID)
}

// Len returns the number of targets held.
func (rs *RefStore) Len() int {
	return rs.cache.Len()
}

// NormalizeRef strips the "@" and "ref=" prefixes and any surrounding
// brackets: "@e5", "ref=e5", "[ref=e5]" all become "e5".
func NormalizeRef(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if after, ok := strings.CutPrefix(s, "@"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "ref="); ok {
		s = after
	}
	return s
}

// isRefToken reports whether raw is an explicit ref selector. A bare "e5"
// is not: it is also a valid custom element name.
func isRefToken(raw string) bool {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "@") && !strings.HasPrefix(s, "ref=") && !strings.HasPrefix(s, "[ref=") {
		return false
	}
	return refPattern.MatchString(NormalizeRef(s))
}
