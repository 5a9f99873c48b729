package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/srg/bleadv/internal/asyncsock"
	"golang.org/x/sys/unix"
)

var (
	// ErrUnavailable is the root of every transient transport failure; the
	// manager reacts to it by re-acquiring its adapters.
	ErrUnavailable    = errors.New("adapter unavailable")
	ErrAdapterTimeout = fmt.Errorf("%w: command timed out", ErrUnavailable)
	ErrClosed         = fmt.Errorf("%w: closed", ErrUnavailable)

	ErrCommandFailed = errors.New("command failed")
	ErrDisallowed    = fmt.Errorf("%w: command disallowed", ErrCommandFailed)

	// ErrDataTooLong rejects one item; it says nothing about the transport.
	ErrDataTooLong = errors.New("advertising data too long")
)

// AdapterError records which adapter operation failed.
type AdapterError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// wrap attaches the adapter and operation unless err already carries them.
func wrap(adapter, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return &AdapterError{Adapter: adapter, Op: op, Err: NormalizeError(err)}
}

// NormalizeError maps socket level failures onto the adapter sentinels,
// keeping the original error in the message.
func NormalizeError(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	switch {
	case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrAdapterTimeout, err)
	case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET),
		errors.Is(err, net.ErrClosed), errors.Is(err, asyncsock.ErrNotOpen):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENETDOWN):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
