// Package failure defines the error taxonomy shared by the scraper, composer,
// checkout flow and session orchestrator.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the broad class of a failure. Callers branch on Kind with errors.Is
// against the Err* sentinels.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidInput
	KindTimeout
	KindState
	KindUnavailable
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTimeout      = errors.New("timeout")
	ErrState        = errors.New("unexpected page state")
	ErrUnavailable  = errors.New("storefront unavailable")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindInvalidInput:
		return ErrInvalidInput
	case KindTimeout:
		return ErrTimeout
	case KindState:
		return ErrState
	case KindUnavailable:
		return ErrUnavailable
	}
	return nil
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown"
}

// Code identifies the exact failure.
type Code string

const (
	ItemNotFound           Code = "item_not_found"
	OptionNotFound         Code = "option_not_found"
	DetailViewMissing      Code = "detail_view_missing"
	InvalidQuantity        Code = "invalid_quantity"
	QuantityControlMissing Code = "quantity_control_missing"
	NoteFieldMissing       Code = "note_field_missing"
	CommitFailed           Code = "commit_failed"
	FieldMissing           Code = "field_missing"
	PaymentFrameMissing    Code = "payment_frame_missing"
	SubmitFailed           Code = "submit_failed"
	ReauthFailed           Code = "reauth_failed"
	UnparsedInstruction    Code = "unparsed_instruction"
	Unavailable            Code = "unavailable"
	NothingOrdered         Code = "nothing_ordered"
	Timeout                Code = "timeout"
)

var codeKinds = map[Code]Kind{
	ItemNotFound:           KindNotFound,
	OptionNotFound:         KindNotFound,
	DetailViewMissing:      KindNotFound,
	InvalidQuantity:        KindInvalidInput,
	QuantityControlMissing: KindNotFound,
	NoteFieldMissing:       KindNotFound,
	CommitFailed:           KindNotFound,
	FieldMissing:           KindNotFound,
	PaymentFrameMissing:    KindState,
	SubmitFailed:           KindState,
	ReauthFailed:           KindState,
	UnparsedInstruction:    KindState,
	Unavailable:            KindUnavailable,
	NothingOrdered:         KindState,
	Timeout:                KindTimeout,
}

// Error carries enough context to tell which item, option or step failed.
type Error struct {
	Code Code
	Kind Kind
	// Step names the operation that failed, e.g. "select option" or "fill payment".
	Step       string
	Item       string
	Group      string
	Option     string
	Suggestion string
	Err        error
}

// New builds an Error whose Kind is derived from code.
func New(code Code, step string) *Error {
	return &Error{Code: code, Kind: codeKinds[code], Step: step}
}

// Wrap builds an Error around err. A context deadline inside err turns the
// failure into a Timeout regardless of code.
func Wrap(code Code, step string, err error) *Error {
	e := New(code, step)
	e.Err = err
	if errors.Is(err, context.DeadlineExceeded) {
		e.Kind = KindTimeout
	}
	return e
}

func (e *Error) WithItem(item string) *Error {
	e.Item = item
	return e
}

func (e *Error) WithOption(group, option string) *Error {
	e.Group = group
	e.Option = option
	return e
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Step != "" {
		fmt.Fprintf(&b, " during %s", e.Step)
	}
	if e.Item != "" {
		fmt.Fprintf(&b, ": item %q", e.Item)
	}
	if e.Option != "" {
		if e.Group != "" {
			fmt.Fprintf(&b, ", option %q in group %q", e.Option, e.Group)
		} else {
			fmt.Fprintf(&b, ", option %q", e.Option)
		}
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, " (did you mean %q?)", e.Suggestion)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the Kind sentinels so callers can write errors.Is(err, failure.ErrTimeout).
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsTimeout reports whether err is a Timeout failure or a bare context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
