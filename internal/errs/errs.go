// Package errs defines the error taxonomy surfaced by the TextDBX engine.
package errs

import "fmt"

// Kind identifies the category of an engine error, per the taxonomy in
// the storage design document's error handling section.
type Kind string

const (
	KindValidation      Kind = "validation-error"
	KindPermission      Kind = "permission-error"
	KindConfig          Kind = "config-error"
	KindEncryption      Kind = "encryption-error"
	KindDecryption      Kind = "decryption-error"
	KindDataCorruption  Kind = "data-corruption-error"
	KindDataFormat      Kind = "data-format-error"
	KindFileRead        Kind = "file-read-error"
	KindFileWrite       Kind = "file-write-error"
	KindTransaction     Kind = "transaction-error"
	KindBackup          Kind = "backup-error"
	KindRestore         Kind = "restore-error"
)

// Error is the concrete error type returned by every public engine entry
// point. It always carries a short Kind and a human message, and may wrap
// an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Allowed is populated for KindPermission errors: the role's full set
	// of permitted actions, so the caller can be told what it may do.
	Allowed []string

	// Field is populated for KindConfig errors naming a missing key.
	Field string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Permission builds a KindPermission error enumerating the role's allowed
// actions, per the "Permission errors enumerate the role's allowed
// actions" propagation policy.
func Permission(role, action string, allowed []string) *Error {
	return &Error{
		Kind:    KindPermission,
		Message: fmt.Sprintf("role %q may not perform action %q", role, action),
		Allowed: allowed,
	}
}

// ConfigMissing builds a KindConfig error naming the missing required field.
func ConfigMissing(field string) *Error {
	return &Error{
		Kind:    KindConfig,
		Message: fmt.Sprintf("required configuration field %q is missing", field),
		Field:   field,
	}
}

// Is supports errors.Is comparisons by Kind: errs.New(k, "") matches any
// *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
