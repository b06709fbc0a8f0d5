package transport

import "sync"

// StopSignal is the cooperative cancellation signal of a batch. It is
// checked before each recipient; a send in flight always completes.
type StopSignal interface {
	Stopped() bool
	// Done is closed once the signal is set.
	Done() <-chan struct{}
}

// StopFlag is a StopSignal that can be set from any goroutine.
type StopFlag struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.Mutex
}

// NewStopFlag returns an unset flag.
func NewStopFlag() *StopFlag {
	return &StopFlag{ch: make(chan struct{})}
}

// Stop sets the flag. Calling it more than once is harmless.
func (f *StopFlag) Stop() {
	f.once.Do(func() { close(f.done()) })
}

// Stopped reports whether Stop has been called.
func (f *StopFlag) Stopped() bool {
	select {
	case <-f.done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed by Stop.
func (f *StopFlag) Done() <-chan struct{} {
	return f.done()
}

func (f *StopFlag) done() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		f.ch = make(chan struct{})
	}
	return f.ch
}
