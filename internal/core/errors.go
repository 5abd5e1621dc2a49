package core

import (
	"errors"
	"fmt"
)

// Kind classifies domain failures for callers and transports.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindBusinessRule Kind = "business_rule"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is a classified domain failure. Op names the operation that failed,
// Entity and Key identify the record involved when there is one.
type Error struct {
	Kind    Kind
	Op      string
	Entity  string
	Key     string
	Message string
}

// Sentinels for errors.Is matching on kind only.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrBusinessRule = &Error{Kind: KindBusinessRule}
	ErrConflict     = &Error{Kind: KindConflict}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Is matches a bare kind sentinel, or an error with the same kind, entity and key.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind != e.Kind {
		return false
	}
	if t.Entity == "" && t.Key == "" && t.Message == "" && t.Op == "" {
		return true
	}
	return t.Entity == e.Entity && t.Key == e.Key
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, entity, key string) error {
	return &Error{Kind: KindNotFound, Op: op, Entity: entity, Key: key, Message: fmt.Sprintf("%s %q not found", entity, key)}
}

func BusinessRule(op, format string, args ...any) error {
	return &Error{Kind: KindBusinessRule, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Conflict(op, entity, key string) error {
	return &Error{Kind: KindConflict, Op: op, Entity: entity, Key: key, Message: fmt.Sprintf("%s %q was modified concurrently", entity, key)}
}

// AccountNotFound is the explicit failure raised when a balance recompute
// cannot resolve its account.
func AccountNotFound(op, key string) error {
	return NotFound(op, EntityAccount, key)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found failure for entity (any entity when empty).
func IsNotFound(err error, entity string) bool {
	var de *Error
	if !errors.As(err, &de) || de.Kind != KindNotFound {
		return false
	}
	return entity == "" || de.Entity == entity
}
