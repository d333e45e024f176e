package query

import "sync"

// Publisher holds the current Result and hands it to observers. Delivery is latest-value:
// each observer channel buffers one value and a newer publish replaces an undelivered one,
// so a slow observer skips intermediate states but never blocks Publish.
type Publisher struct {
	mu      sync.Mutex
	current Result
	subs    map[chan Result]struct{}
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[chan Result]struct{})}
}

// Publish replaces the current Result and offers it to every subscriber.
func (p *Publisher) Publish(r Result) {
	p.publishFunc(func() (Result, bool) { return r, true })
}

// publishFunc runs fn under the publisher lock and publishes its result when ok is true.
// Used to make a check-then-publish atomic with respect to other publishes.
func (p *Publisher) publishFunc(fn func() (Result, bool)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := fn()
	if !ok {
		return false
	}
	p.current = r
	for ch := range p.subs {
		offer(ch, r)
	}
	return true
}

// Current returns the latest Result; ok is false before anything has been published.
func (p *Publisher) Current() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.current != nil
}

// Subscribe registers an observer. The channel receives the current Result immediately when
// one exists, then every later state it is fast enough to see. cancel unregisters and closes it.
func (p *Publisher) Subscribe() (updates <-chan Result, cancel func()) {
	ch := make(chan Result, 1)

	p.mu.Lock()
	if p.current != nil {
		ch <- p.current
	}
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered observers.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// offer delivers r, dropping any value the subscriber has not read yet.
// Callers hold p.mu, so no other sender can refill ch between the drain and the send.
func offer(ch chan Result, r Result) {
	select {
	case <-ch:
	default:
	}
	ch <- r
}
