package vm

// Inline Caching for Global Lookups
//
// LOAD_GLOBAL and LOAD_GLOBAL_REG resolve a name against the frame's globals
// and then its builtins. When both namespaces are *Dict, each instruction
// site remembers the value it found together with the two namespaces'
// version stamps. The entry stays valid exactly as long as both stamps still
// match, so a hit needs no hashing at all.
//
// The cache is indexed by instruction index within a code unit, so each
// lookup site has its own entry, shared by every activation of that code.

// GlobalCache is the cache entry for one global-lookup site.
type GlobalCache struct {
	GlobalsVersion  uint64
	BuiltinsVersion uint64
	Value           Value // borrowed from whichever namespace held it
	Optimized       bool  // entry has been populated at least once

	// Statistics for profiling
	Hits   uint64
	Misses uint64
}

// Lookup returns the cached value if both version stamps still match.
func (c *GlobalCache) Lookup(globals, builtins *Dict) (Value, bool) {
	if c.Optimized &&
		c.GlobalsVersion == globals.Version() &&
		c.BuiltinsVersion == builtins.Version() {
		c.Hits++
		return c.Value, true
	}
	c.Misses++
	return nil, false
}

// Update records a freshly resolved value against the current stamps.
func (c *GlobalCache) Update(globals, builtins *Dict, v Value) {
	c.GlobalsVersion = globals.Version()
	c.BuiltinsVersion = builtins.Version()
	c.Value = v
	c.Optimized = true
}

// HitRate returns the cache hit rate as a percentage (0-100).
func (c *GlobalCache) HitRate() float64 {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0
	}
	return float64(c.Hits) * 100 / float64(total)
}

// Reset clears the entry back to its cold state.
func (c *GlobalCache) Reset() {
	*c = GlobalCache{}
}

// CacheTable holds the global caches for all sites in a code unit.
type CacheTable struct {
	entries []GlobalCache
}

func newCacheTable(sites int) *CacheTable {
	return &CacheTable{entries: make([]GlobalCache, sites)}
}

// Len returns the number of sites the table covers.
func (t *CacheTable) Len() int { return len(t.entries) }

// Entry returns the cache for the instruction at index site.
func (t *CacheTable) Entry(site int) *GlobalCache {
	return &t.entries[site]
}

// Stats returns aggregate statistics for all entries in the table.
func (t *CacheTable) Stats() (optimized int, totalHits, totalMisses uint64) {
	for i := range t.entries {
		c := &t.entries[i]
		if c.Optimized {
			optimized++
		}
		totalHits += c.Hits
		totalMisses += c.Misses
	}
	return
}

// HitRate returns the aggregate hit rate for all entries.
func (t *CacheTable) HitRate() float64 {
	_, hits, misses := t.Stats()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(total)
}

// Reset clears all entries in the table.
func (t *CacheTable) Reset() {
	for i := range t.entries {
		t.entries[i].Reset()
	}
}

// ---------------------------------------------------------------------------
// Two-level lookup
// ---------------------------------------------------------------------------

// loadGlobal resolves name for the instruction at site. The returned value
// is borrowed.
func (e *Engine) loadGlobal(f *Frame, site int, name string) (Value, error) {
	globals, gok := f.Globals.(*Dict)
	builtins, bok := f.Builtins.(*Dict)
	if gok && bok {
		if !e.cacheEnabled {
			e.stats.addGlobalMiss()
			return lookupDicts(globals, builtins, name)
		}
		entry := f.Code.Caches().Entry(site)
		if v, ok := entry.Lookup(globals, builtins); ok {
			e.stats.addGlobalHit()
			return v, nil
		}
		v, err := lookupDicts(globals, builtins, name)
		if err != nil {
			return nil, err
		}
		if !entry.Optimized {
			e.stats.addGlobalFirst()
		}
		e.stats.addGlobalMiss()
		entry.Update(globals, builtins, v)
		return v, nil
	}
	e.stats.addSlowLookup()
	return lookupNamespaces(f.Globals, f.Builtins, name)
}

func lookupDicts(globals, builtins *Dict, name string) (Value, error) {
	if v, ok := globals.Lookup(name); ok {
		return v, nil
	}
	if v, ok := builtins.Lookup(name); ok {
		return v, nil
	}
	return nil, errNameNotDefined(name)
}

// lookupNamespaces is the uncached path for generic namespaces. Only an
// explicit not-found on the primary namespace falls through.
func lookupNamespaces(primary, secondary Namespace, name string) (Value, error) {
	v, err := primary.Get(name)
	if err == nil {
		return v, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if secondary == nil {
		return nil, errNameNotDefined(name)
	}
	v, err = secondary.Get(name)
	if err == nil {
		return v, nil
	}
	if isNotFound(err) {
		return nil, errNameNotDefined(name)
	}
	return nil, err
}
