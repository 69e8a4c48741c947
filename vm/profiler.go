package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Stats tracks dynamic execution counts for one or more engines. All
// counters are atomic so a host may read them while an engine runs.
type Stats struct {
	instructions atomic.Uint64
	calls        atomic.Uint64
	maxDepth     atomic.Int64

	globalHits   atomic.Uint64 // served from an inline cache entry
	globalMisses atomic.Uint64 // full lookups on the cacheable path
	globalFirst  atomic.Uint64 // first optimization of a site
	slowLookups  atomic.Uint64 // lookups against generic namespaces

	raised      atomic.Uint64
	handled     atomic.Uint64
	suspensions atomic.Uint64
	framesLive  atomic.Int64

	// Per-code call counts
	codeProfiles sync.Map // *Code -> *CodeProfile
}

// CodeProfile holds the call count of a single code unit.
type CodeProfile struct {
	Code  *Code
	Calls uint64 // atomic
}

// NewStats creates an empty statistics block.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) addInstructions(n uint64) { s.instructions.Add(n) }
func (s *Stats) addGlobalHit()            { s.globalHits.Add(1) }
func (s *Stats) addGlobalMiss()           { s.globalMisses.Add(1) }
func (s *Stats) addGlobalFirst()          { s.globalFirst.Add(1) }
func (s *Stats) addSlowLookup()           { s.slowLookups.Add(1) }
func (s *Stats) addRaised()               { s.raised.Add(1) }
func (s *Stats) addHandled()              { s.handled.Add(1) }
func (s *Stats) addSuspension()           { s.suspensions.Add(1) }
func (s *Stats) frameStarted()            { s.framesLive.Add(1) }
func (s *Stats) frameReleased()           { s.framesLive.Add(-1) }

// recordCall counts one invocation of code at the given nesting depth.
func (s *Stats) recordCall(code *Code, depth int) {
	s.calls.Add(1)
	for {
		cur := s.maxDepth.Load()
		if int64(depth) <= cur || s.maxDepth.CompareAndSwap(cur, int64(depth)) {
			break
		}
	}
	val, _ := s.codeProfiles.LoadOrStore(code, &CodeProfile{Code: code})
	atomic.AddUint64(&val.(*CodeProfile).Calls, 1)
}

// StatsSnapshot is a point-in-time copy of a Stats block.
type StatsSnapshot struct {
	Instructions uint64
	Calls        uint64
	MaxDepth     int64
	GlobalHits   uint64
	GlobalMisses uint64
	GlobalFirst  uint64
	SlowLookups  uint64
	Raised       uint64
	Handled      uint64
	Suspensions  uint64
	FramesLive   int64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Instructions: s.instructions.Load(),
		Calls:        s.calls.Load(),
		MaxDepth:     s.maxDepth.Load(),
		GlobalHits:   s.globalHits.Load(),
		GlobalMisses: s.globalMisses.Load(),
		GlobalFirst:  s.globalFirst.Load(),
		SlowLookups:  s.slowLookups.Load(),
		Raised:       s.raised.Load(),
		Handled:      s.handled.Load(),
		Suspensions:  s.suspensions.Load(),
		FramesLive:   s.framesLive.Load(),
	}
}

// GlobalHitRate returns the inline cache hit rate as a percentage (0-100).
func (s StatsSnapshot) GlobalHitRate() float64 {
	total := s.GlobalHits + s.GlobalMisses
	if total == 0 {
		return 0
	}
	return float64(s.GlobalHits) * 100 / float64(total)
}

// CodeProfiles returns the per-code call counts, most called first.
func (s *Stats) CodeProfiles() []CodeProfile {
	var out []CodeProfile
	s.codeProfiles.Range(func(_, val any) bool {
		p := val.(*CodeProfile)
		out = append(out, CodeProfile{Code: p.Code, Calls: atomic.LoadUint64(&p.Calls)})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Code.displayName() < out[j].Code.displayName()
	})
	return out
}

// Reset zeroes every counter and forgets all code profiles.
func (s *Stats) Reset() {
	s.instructions.Store(0)
	s.calls.Store(0)
	s.maxDepth.Store(0)
	s.globalHits.Store(0)
	s.globalMisses.Store(0)
	s.globalFirst.Store(0)
	s.slowLookups.Store(0)
	s.raised.Store(0)
	s.handled.Store(0)
	s.suspensions.Store(0)
	s.framesLive.Store(0)
	s.codeProfiles.Range(func(key, _ any) bool {
		s.codeProfiles.Delete(key)
		return true
	})
}
