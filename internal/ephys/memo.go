package ephys

// feature tags every memoized calculation on a Response.
type feature uint8

const (
	featSpikePoints feature = iota + 1
	featDVDT
	featAPMaxIdx
	featAHPIdx
	featThresholdIdx
	featRisingIdx
	featFallingIdx
	featSagPeakIdx
	featSteadyState
	featSagFit
	featMaxReboundIdx
	featReboundMarkers
)

// argTuple holds the "__"-separated arguments of a parameterised feature.
type argTuple [3]string

type cacheKey struct {
	feature feature
	args    argTuple
}

// CacheStats reports memo activity for one Response.
type CacheStats struct {
	Hits    int
	Misses  int
	Entries int
}

// memo caches feature results for the lifetime of a Response. It is not safe
// for concurrent use.
type memo struct {
	entries map[cacheKey]any
	hits    int
	misses  int
}

func newMemo() *memo {
	return &memo{entries: make(map[cacheKey]any)}
}

func (m *memo) stats() CacheStats {
	return CacheStats{Hits: m.hits, Misses: m.misses, Entries: len(m.entries)}
}

// cached returns the stored value for key or computes and stores it. Failed
// computations are not stored.
func cached[T any](m *memo, key cacheKey, compute func() (T, error)) (T, error) {
	if v, ok := m.entries[key]; ok {
		m.hits++
		return v.(T), nil
	}
	m.misses++
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	m.entries[key] = v
	return v, nil
}

// always is cached for calculations that cannot fail.
func always[T any](m *memo, key cacheKey, compute func() T) T {
	v, _ := cached(m, key, func() (T, error) { return compute(), nil })
	return v
}

func memoKey(f feature, args ...string) cacheKey {
	k := cacheKey{feature: f}
	copy(k.args[:], args)
	return k
}
