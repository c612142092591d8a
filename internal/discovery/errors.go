package discovery

import "fmt"

// ErrorKind classifies why a discovery call failed.
type ErrorKind int

const (
	// KindTransport covers unreachable endpoints and non-2xx responses.
	KindTransport ErrorKind = iota + 1
	// KindDecode covers bodies that do not carry a peer list.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by Discover for every failure. Status is the HTTP status
// code when a response was received.
type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("discovery %s error (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("discovery %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transportError(status int, err error) *Error {
	return &Error{Kind: KindTransport, Status: status, Err: err}
}

func decodeError(status int, err error) *Error {
	return &Error{Kind: KindDecode, Status: status, Err: err}
}
