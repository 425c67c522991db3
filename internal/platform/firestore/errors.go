package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind classifies a persistence failure for the service layer.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// kindByCode maps gRPC status codes returned by Firestore. Codes not listed are KindUnknown.
var kindByCode = map[codes.Code]Kind{
	codes.NotFound:           KindNotFound,
	codes.AlreadyExists:      KindConflict,
	codes.FailedPrecondition: KindConflict,
	codes.Aborted:            KindConflict,
	codes.OutOfRange:         KindConflict,
	codes.Unavailable:        KindUnavailable,
	codes.ResourceExhausted:  KindUnavailable,
	codes.Internal:           KindUnavailable,
	codes.DeadlineExceeded:   KindUnavailable,
}

// Error is a classified Firestore failure. It satisfies repositories.RepositoryError.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.Kind == KindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Kind == KindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == KindUnavailable }

// Conflict reports a collision found by application logic, such as a claimed reservation.
func Conflict(op string, err error) error {
	return &Error{Op: op, Kind: KindConflict, Err: err}
}

// NotFound reports a document that application logic expected to exist.
func NotFound(op string, err error) error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// KindOf classifies err, looking through wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Kind
	}
	return kindByCode[status.Code(err)]
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsAlreadyExists reports whether a create-only write found the id taken. Other conflicts such
// as aborted transactions do not count.
func IsAlreadyExists(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		err = fsErr.Err
	}
	return status.Code(err) == codes.AlreadyExists
}

// WrapError classifies err under op. Cancellation is returned as the context error so callers
// can match it with errors.Is. An already classified error keeps its kind and gains op if it
// had none.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var fsErr *Error
	if errors.As(err, &fsErr) {
		if fsErr.Op == "" {
			fsErr.Op = op
		}
		return fsErr
	}
	return &Error{Op: op, Kind: kindByCode[code], Err: err}
}
