// Package errdefs defines the domain error kinds surfaced by mkrk.
//
// Every error that crosses a package boundary in the core carries one of
// these kinds so callers can branch on the failure class without string
// matching. Kinds map one-to-one onto the user-visible failure classes:
// the CLI prints the message and derives the exit code from the kind.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a domain failure.
type Kind int

const (
	// KindUnknown is the zero value; never constructed explicitly.
	KindUnknown Kind = iota
	// KindNotFound - entity not present.
	KindNotFound
	// KindAlreadyExists - unique-constraint violation.
	KindAlreadyExists
	// KindInvalidReference - reference parse failure.
	KindInvalidReference
	// KindAmbiguousMatch - single-file operation matched many files.
	KindAmbiguousMatch
	// KindAmbiguousPipeline - file participates in several pipelines and none was named.
	KindAmbiguousPipeline
	// KindAmbiguousToolSelection - several tool configs match and no terminal to prompt.
	KindAmbiguousToolSelection
	// KindProtectionViolation - mutation refused by protection level.
	KindProtectionViolation
	// KindIntegrityMismatch - stored hash differs from on-disk content.
	KindIntegrityMismatch
	// KindCrossDevice - rename across volumes.
	KindCrossDevice
	// KindPrivilegeDenied - immutable flag needs privileges; non-fatal.
	KindPrivilegeDenied
	// KindInvalidPipeline - pipeline validation failure.
	KindInvalidPipeline
	// KindWorkspaceRequired - cross-project operation without a workspace.
	KindWorkspaceRequired
	// KindProjectRequired - project-scoped operation outside a project.
	KindProjectRequired
	// KindStore - underlying database error.
	KindStore
	// KindIO - filesystem error.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindInvalidReference:
		return "invalid reference"
	case KindAmbiguousMatch:
		return "ambiguous match"
	case KindAmbiguousPipeline:
		return "ambiguous pipeline"
	case KindAmbiguousToolSelection:
		return "ambiguous tool selection"
	case KindProtectionViolation:
		return "protection violation"
	case KindIntegrityMismatch:
		return "integrity mismatch"
	case KindCrossDevice:
		return "cross-device rename"
	case KindPrivilegeDenied:
		return "privilege denied"
	case KindInvalidPipeline:
		return "invalid pipeline"
	case KindWorkspaceRequired:
		return "workspace required"
	case KindProjectRequired:
		return "project required"
	case KindStore:
		return "store error"
	case KindIO:
		return "io error"
	}
	return "unknown"
}

// Error is the concrete error type for all domain failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg != "" {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on the kind: errors.Is(err, &Error{Kind: KindNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// KindOf extracts the kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func is(err error, k Kind) bool { return KindOf(err) == k }

func NotFound(what, key string) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s '%s' not found", what, key)}
}

func AlreadyExists(what, key string) error {
	return &Error{Kind: KindAlreadyExists, Msg: fmt.Sprintf("%s '%s' already exists", what, key)}
}

func InvalidReference(format string, args ...any) error {
	return &Error{Kind: KindInvalidReference, Msg: fmt.Sprintf(format, args...)}
}

func AmbiguousMatch(reference string, n int) error {
	return &Error{
		Kind: KindAmbiguousMatch,
		Msg:  fmt.Sprintf("reference '%s' matched %d files, expected 1", reference, n),
	}
}

func AmbiguousPipeline(path string, candidates []string) error {
	return &Error{
		Kind: KindAmbiguousPipeline,
		Msg: fmt.Sprintf("file '%s' is in multiple pipelines (%s); use --pipeline to specify",
			path, strings.Join(candidates, ", ")),
	}
}

func AmbiguousToolSelection(candidates []string) error {
	return &Error{
		Kind: KindAmbiguousToolSelection,
		Msg:  fmt.Sprintf("multiple tools match (%s) and no terminal to choose", strings.Join(candidates, ", ")),
	}
}

func ProtectionViolation(level, op string) error {
	return &Error{
		Kind: KindProtectionViolation,
		Msg:  fmt.Sprintf("operation '%s' refused: file is %s", op, level),
	}
}

func IntegrityMismatch(path, expected, actual string) error {
	return &Error{
		Kind: KindIntegrityMismatch,
		Msg:  fmt.Sprintf("%s MODIFIED (expected %s, actual %s)", path, expected, actual),
	}
}

func CrossDevice(from, to string) error {
	return &Error{
		Kind: KindCrossDevice,
		Msg:  fmt.Sprintf("cannot move across volumes (%s -> %s)", from, to),
	}
}

func PrivilegeDenied(op string, cause error) error {
	return &Error{Kind: KindPrivilegeDenied, Msg: op, Err: cause}
}

func InvalidPipeline(format string, args ...any) error {
	return &Error{Kind: KindInvalidPipeline, Msg: fmt.Sprintf(format, args...)}
}

func WorkspaceRequired(detail string) error {
	return &Error{Kind: KindWorkspaceRequired, Msg: detail}
}

func ProjectRequired(detail string) error {
	return &Error{Kind: KindProjectRequired, Msg: detail}
}

func Store(cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindStore, Msg: "store", Err: cause}
}

func IO(msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindIO, Msg: msg, Err: cause}
}

func IsNotFound(err error) bool               { return is(err, KindNotFound) }
func IsAlreadyExists(err error) bool          { return is(err, KindAlreadyExists) }
func IsInvalidReference(err error) bool       { return is(err, KindInvalidReference) }
func IsAmbiguousMatch(err error) bool         { return is(err, KindAmbiguousMatch) }
func IsAmbiguousPipeline(err error) bool      { return is(err, KindAmbiguousPipeline) }
func IsAmbiguousToolSelection(err error) bool { return is(err, KindAmbiguousToolSelection) }
func IsProtectionViolation(err error) bool    { return is(err, KindProtectionViolation) }
func IsIntegrityMismatch(err error) bool      { return is(err, KindIntegrityMismatch) }
func IsCrossDevice(err error) bool            { return is(err, KindCrossDevice) }
func IsPrivilegeDenied(err error) bool        { return is(err, KindPrivilegeDenied) }
func IsInvalidPipeline(err error) bool        { return is(err, KindInvalidPipeline) }
func IsWorkspaceRequired(err error) bool      { return is(err, KindWorkspaceRequired) }
func IsProjectRequired(err error) bool        { return is(err, KindProjectRequired) }
func IsStore(err error) bool                  { return is(err, KindStore) }
func IsIO(err error) bool                     { return is(err, KindIO) }
