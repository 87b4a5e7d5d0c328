package epoch

import "sync"

// ResultStatus is the observable state of a one-shot completion signal.
type ResultStatus int

const (
	ResultPending ResultStatus = iota
	ResultSuccess
	ResultFailure
)

func (s ResultStatus) String() string {
	switch s {
	case ResultPending:
		return "pending"
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Promise is a one-shot completion signal: it transitions from pending
// to success or failure exactly once and never changes value afterwards.
//
// Subscribed callbacks run on the resolving goroutine. Callers that must
// not run continuations under their own locks (see the configuration
// service) wrap callbacks so they dispatch onto an executor.
type Promise struct {
	mu        sync.Mutex
	status    ResultStatus
	err       error
	done      chan struct{}
	callbacks []func(error)
}

// NewPromise returns an unresolved promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// FailedPromise returns a promise already resolved with err.
func FailedPromise(err error) *Promise {
	p := NewPromise()
	p.TryFailure(err)
	return p
}

// TrySuccess resolves the promise successfully. Returns false if the
// promise was already resolved.
func (p *Promise) TrySuccess() bool {
	return p.resolve(nil)
}

// TryFailure resolves the promise with err. Returns false if the
// promise was already resolved.
func (p *Promise) TryFailure(err error) bool {
	if err == nil {
		panic("epoch: TryFailure called with nil error")
	}
	return p.resolve(err)
}

func (p *Promise) resolve(err error) bool {
	p.mu.Lock()
	if p.status != ResultPending {
		p.mu.Unlock()
		return false
	}
	if err == nil {
		p.status = ResultSuccess
	} else {
		p.status = ResultFailure
		p.err = err
	}
	callbacks := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()

	for _, cb := range callbacks {
		cb(err)
	}
	return true
}

// Status returns the current observable state.
func (p *Promise) Status() ResultStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the failure cause, or nil while pending or on success.
func (p *Promise) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done returns a channel closed when the promise resolves.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Subscribe registers fn to run when the promise resolves; if it is
// already resolved, fn runs immediately on the calling goroutine.
func (p *Promise) Subscribe(fn func(err error)) {
	p.mu.Lock()
	if p.status == ResultPending {
		p.callbacks = append(p.callbacks, fn)
		p.mu.Unlock()
		return
	}
	err := p.err
	p.mu.Unlock()
	fn(err)
}

// SubscribeSuccess registers fn to run only if the promise resolves
// successfully.
func (p *Promise) SubscribeSuccess(fn func()) {
	p.Subscribe(func(err error) {
		if err == nil {
			fn()
		}
	})
}
