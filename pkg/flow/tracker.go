package flow

import "sync"

// tracker counts updates in flight. idle is closed whenever the count is
// zero, so waiters can select on it alongside a context.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newTracker() *tracker {
	t := &tracker{idle: make(chan struct{})}
	close(t.idle)
	return t
}

func (t *tracker) add(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 && delta > 0 {
		t.idle = make(chan struct{})
	}
	t.n += delta
	if t.n < 0 {
		panic("flow: negative in-flight count")
	}
	if t.n == 0 && delta < 0 {
		close(t.idle)
	}
}

func (t *tracker) done() { t.add(-1) }

func (t *tracker) wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idle
}
