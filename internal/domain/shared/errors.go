// Package shared contains the error kinds, events and small value objects
// used by every SkillX domain package. It has no external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base error kinds. Match them with errors.Is.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidState = errors.New("invalid state")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBusinessRule covers requests that are well formed but not allowed
	// by the current state (not enough credits, enrolling in an unpublished course).
	ErrBusinessRule = errors.New("business rule violated")

	// ErrPartialFailure means a multi-document write failed midway and was
	// compensated. The caller may try again.
	ErrPartialFailure = errors.New("partial failure")

	// ErrNeedsReconciliation means compensation itself failed and state is
	// inconsistent until a reconcile pass runs.
	ErrNeedsReconciliation = errors.New("needs reconciliation")

	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrExternalService        = errors.New("external service error")
	ErrServiceUnavailable     = errors.New("service unavailable")
	ErrTimeout                = errors.New("operation timeout")
)

// DomainError carries the domain and operation that failed plus a kind
// for errors.Is matching.
type DomainError struct {
	Domain  string // "enrollment", "social", ...
	Op      string // "Enroll", "Follow", ...
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind chain and the wrapped cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	return e.Err != nil && errors.Is(e.Err, target)
}

// NewDomainError creates a DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError creates a DomainError around cause. Prebuilt errors below can
// be used as kind so both the specific and the base kind match.
func WrapError(domain, op string, kind error, message string, cause error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: cause}
}

// User errors
var (
	ErrUserNotFound        = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrUserProfileMissing  = NewDomainError("user", "Find", ErrNotFound, "user profile missing")
	ErrActorProfileMissing = NewDomainError("user", "Find", ErrNotFound, "actor profile missing")
	ErrEmailTaken          = NewDomainError("user", "Register", ErrAlreadyExists, "email already registered")
)

// Credit errors
var (
	ErrInvalidAmount = NewDomainError("credit", "Adjust", ErrInvalidInput, "amount must be positive")
)

// Course errors
var (
	ErrCourseNotFound    = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrNotCourseOwner    = NewDomainError("course", "Modify", ErrForbidden, "only the creator may modify a course")
	ErrCoursePriceTooLow = NewDomainError("course", "Validate", ErrValidation, "course price below minimum")
)

// Enrollment errors
var (
	ErrEnrollmentWriteFailed = NewDomainError("enrollment", "Record", ErrPartialFailure, "enrollment could not be recorded, credits refunded")
	ErrCourseNotOpen         = NewDomainError("enrollment", "Enroll", ErrBusinessRule, "course is not open for enrollment")
)

// Social errors
var (
	ErrSelfFollowNotAllowed          = NewDomainError("social", "Follow", ErrValidation, "cannot follow yourself")
	ErrFollowPartiallyFailed         = NewDomainError("social", "Follow", ErrPartialFailure, "follow could not be completed")
	ErrUnfollowPartiallyFailed       = NewDomainError("social", "Unfollow", ErrPartialFailure, "unfollow could not be completed")
	ErrRemoveFollowerPartiallyFailed = NewDomainError("social", "RemoveFollower", ErrPartialFailure, "follower could not be removed")
)

// Feed errors
var (
	ErrPostNotFound = NewDomainError("post", "Find", ErrNotFound, "post not found")
)

// InsufficientCreditsError reports a debit larger than the balance.
type InsufficientCreditsError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

// Is lets callers match with errors.Is(err, ErrBusinessRule).
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrBusinessRule
}

// IsNotFound reports whether err is any not-found kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation reports whether err is caused by bad input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput)
}

func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrBusinessRule)
}

func IsPartialFailure(err error) bool {
	return errors.Is(err, ErrPartialFailure)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsRetryable reports whether retrying the same request may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPartialFailure) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
