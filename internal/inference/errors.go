package inference

import "errors"

var (
	ErrModelUnavailable       = errors.New("model unavailable")
	ErrTokenization           = errors.New("tokenization failure")
	ErrContextExhausted       = errors.New("context exhausted")
	ErrDecode                 = errors.New("decode failure")
	ErrSamplerReconfiguration = errors.New("sampler reconfiguration failure")
)

// Error carries one of the sentinel kinds above plus the operation and the
// underlying cause, if any.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}
