package circuitbreaker

// Bulkhead limits the number of concurrent in-flight provider calls. It
// rejects immediately when the limit is reached rather than queueing, which
// keeps a slow provider from pinning goroutines during a partial outage.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead allowing at most maxConcurrent in-flight
// calls. Returns nil when maxConcurrent <= 0 (disabled); Acquire and Release
// are safe to call on a nil Bulkhead.
func NewBulkhead(maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		return nil
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrent)}
}

// Acquire tries to take a concurrency slot without blocking. If it returns
// true the caller MUST call Release when the call completes.
func (b *Bulkhead) Acquire() bool {
	if b == nil {
		return true
	}
	select {
	case b.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a concurrency slot. Must be called exactly once for every
// Acquire that returned true.
func (b *Bulkhead) Release() {
	if b == nil {
		return
	}
	<-b.sem
}

// InFlight returns the number of currently held slots.
func (b *Bulkhead) InFlight() int {
	if b == nil {
		return 0
	}
	return len(b.sem)
}
