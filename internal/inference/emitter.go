package inference

import "time"

// FlushPolicy sets when buffered output is handed to the sink. Any threshold
// tripping flushes; zero or negative values disable that threshold.
type FlushPolicy struct {
	Bytes    int
	Tokens   int
	Interval time.Duration
}

func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{
		Bytes:    64,
		Tokens:   1,
		Interval: 100 * time.Millisecond,
	}
}

// Emitter buffers generated fragments for a caller sink.
type Emitter struct {
	sink   FragmentFunc
	host   Host
	policy FlushPolicy
	now    func() time.Time

	buf       []byte
	tokens    int
	lastFlush time.Time
	delivered int
}

func NewEmitter(sink FragmentFunc, host Host, policy FlushPolicy) *Emitter {
	if host == nil {
		host = NopHost{}
	}
	e := &Emitter{
		sink:   sink,
		host:   host,
		policy: policy,
		now:    time.Now,
	}
	e.lastFlush = e.now()
	return e
}

func (e *Emitter) Append(fragment string) {
	if e.sink == nil {
		return
	}
	e.buf = append(e.buf, fragment...)
	e.tokens++
}

func (e *Emitter) MaybeFlush() error {
	if e.sink == nil || len(e.buf) == 0 {
		return nil
	}
	p := e.policy
	switch {
	case p.Bytes > 0 && len(e.buf) >= p.Bytes:
	case p.Tokens > 0 && e.tokens >= p.Tokens:
	case p.Interval > 0 && e.now().Sub(e.lastFlush) >= p.Interval:
	default:
		return nil
	}
	return e.flush()
}

func (e *Emitter) ForceFlush() error {
	if e.sink == nil || len(e.buf) == 0 {
		return nil
	}
	return e.flush()
}

// Delivered is the number of bytes handed to the sink so far.
func (e *Emitter) Delivered() int { return e.delivered }

func (e *Emitter) flush() error {
	chunk := e.buf
	e.buf = nil
	e.tokens = 0
	e.lastFlush = e.now()

	var err error
	e.host.Attach(func() {
		err = e.sink(chunk)
	})
	if err != nil {
		return err
	}
	e.delivered += len(chunk)
	return nil
}
