// Package page defines the browser-like capability the extraction engine is
// driven against. The engine never talks to a DOM directly; it only consumes
// this interface, so the same session logic runs over a real browser driver,
// the plain-HTTP implementation in httppage, or a scripted fake in tests.
package page

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Handle is an opaque reference to one element on the current page. Result
// rows are handed to the field resolver as Handles; queries on a Handle are
// scoped to that element's subtree.
type Handle interface {
	// Query returns the first descendant matching locator, or (nil, nil)
	// when nothing matches. A malformed locator is a *DriverError.
	Query(locator string) (Handle, error)

	// QueryAll returns all descendants matching locator in document order.
	// No match is ([]Handle{}, nil), not an error.
	QueryAll(locator string) ([]Handle, error)

	// Text returns the element's raw text content. Callers are responsible
	// for trimming and whitespace-collapsing.
	Text() string

	// Attr returns the named DOM attribute, or "" when absent.
	Attr(name string) string
}

// Page is the injected page capability the engine runs against. Implementations
// own one session exclusively; a Page is never shared across concurrent runs.
//
// Fill must clear the target field before writing, so repeated fills never
// concatenate with prior state.
type Page interface {
	Goto(ctx context.Context, url string) error
	WaitForReady(ctx context.Context, timeout time.Duration) error

	// WaitFor blocks until locator matches an element or timeout elapses.
	// This is a blocking wait supplied by the driver, not a busy poll in the
	// engine.
	WaitFor(ctx context.Context, locator string, timeout time.Duration) error

	Query(locator string) (Handle, error)
	QueryAll(locator string) ([]Handle, error)

	Fill(ctx context.Context, locator, value string) error
	Click(ctx context.Context, locator string) error

	// FetchAsset downloads the asset at url (relative URLs resolve against
	// the current page) into memory. Used by the OCR pipeline.
	FetchAsset(ctx context.Context, url string) ([]byte, error)

	// Snapshot persists a capture of the current page to path for debugging.
	Snapshot(path string) error
}

// ErrTimeout marks a DriverError caused by an exhausted wait budget.
var ErrTimeout = errors.New("timeout")

// DriverError is the typed failure for any page-capability call.
type DriverError struct {
	Op      string // "goto", "click", "wait_for", ...
	Locator string // locator or URL involved, when applicable
	Err     error
}

func (e *DriverError) Error() string {
	if e.Locator == "" {
		return fmt.Sprintf("driver %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("driver %s %q: %v", e.Op, e.Locator, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// NewDriverError wraps err as a DriverError for op/locator.
func NewDriverError(op, locator string, err error) *DriverError {
	return &DriverError{Op: op, Locator: locator, Err: err}
}

// IsTimeout reports whether err is a driver timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
