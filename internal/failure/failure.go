// Package failure defines the error taxonomy shared by the harness: configuration problems,
// transient and deterministic agent failures, and contract violations.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	// KindConfiguration is a missing fixture, missing schema, or unsafe path. Never retried.
	KindConfiguration Kind = "configuration"
	// KindTransient is a rate-limit or empty-diagnostic failure that survived the retry budget.
	KindTransient Kind = "transient"
	// KindDeterministic is a failure that retrying cannot fix, e.g. quota exhaustion.
	KindDeterministic Kind = "deterministic"
	// KindContract is an unmet verification layer.
	KindContract Kind = "contract"
)

// Layer names one stage of the contract verification chain.
type Layer string

const (
	LayerProcess  Layer = "L0"
	LayerProtocol Layer = "L1"
	LayerEvidence Layer = "L1.5"
	LayerDocument Layer = "L2"
	LayerBehavior Layer = "L3"
)

// Error is the standard error type for harness failures.
type Error struct {
	Kind     Kind
	Scenario string
	Layer    Layer // set for KindContract
	Msg      string
	Items    []string // itemized reasons, e.g. every missing anchor tag
	Cause    error
}

func (e *Error) Error() string {
	if e.Kind == KindContract {
		return fmt.Sprintf("[%s] %s failed: %s", e.Scenario, e.Layer, e.Msg)
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	if e.Scenario != "" {
		fmt.Fprintf(&b, "[%s] ", e.Scenario)
	}
	b.WriteString(e.Msg)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Configf returns a configuration error.
func Configf(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: err}
}

// Violation returns a contract violation for scenario at layer. The message is formatted
// from format/args; items keep the full itemized list.
func Violation(scenario string, layer Layer, items []string, format string, args ...any) error {
	return &Error{
		Kind:     KindContract,
		Scenario: scenario,
		Layer:    layer,
		Msg:      fmt.Sprintf(format, args...),
		Items:    append([]string(nil), items...),
	}
}

// As returns (*Error, true) if err is or wraps an *Error.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf extracts the kind from err, or "" if err is not a classified failure.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// LayerOf returns the failing layer of a contract violation, or "".
func LayerOf(err error) Layer {
	if fe, ok := As(err); ok {
		return fe.Layer
	}
	return ""
}
