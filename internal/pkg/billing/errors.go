package billing

import (
	"errors"
	"fmt"
)

// Kind classifies billing errors for transport mapping. Validation, conflict
// and not-found errors are rejected before any external call and leave no side
// effects; integration errors may leave local and provider state inconsistent
// and must never be swallowed.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindIntegration Kind = "integration"
	KindSignature   Kind = "signature"
)

// Error codes returned to API callers so they can react precisely
// (e.g. prompt for a card vs. show "already subscribed").
const (
	CodeNeedsPaymentMethod   = "needs_payment_method"
	CodeNoProviderCustomer   = "no_provider_customer"
	CodeAlreadySubscribed    = "already_subscribed"
	CodeNoLiveSubscription   = "no_live_subscription"
	CodeSamePlan             = "same_plan"
	CodeSubscriptionCanceled = "subscription_canceled"
	CodeNotCancelScheduled   = "not_cancel_scheduled"
	CodePlanNotFound         = "plan_not_found"
	CodePlanRetired          = "plan_retired"
	CodePlanAudienceMismatch = "plan_audience_mismatch"
	CodePlanNameTaken        = "plan_name_taken"
	CodePlanInUse            = "plan_in_use"
	CodePaymentMethodExists  = "payment_method_exists"
	CodePaymentMethodMissing = "payment_method_not_found"
	CodeAccountNotFound      = "account_not_found"
	CodeProviderFailure      = "provider_failure"
	CodeInvalidSignature     = "invalid_signature"
	CodeInvalidInput         = "invalid_input"
)

// Error is the taxonomy type carried across the billing packages.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidation(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewConflict(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewIntegration(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindIntegration, Code: CodeProviderFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

func NewSignature(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSignature, Code: CodeInvalidSignature, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, defaulting to integration for unclassified
// errors so nothing unexpected is ever treated as a client fault.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindIntegration
}

// CodeOf extracts the machine-readable error code.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeProviderFailure
}

func IsValidation(err error) bool  { return KindOf(err) == KindValidation }
func IsConflict(err error) bool    { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsIntegration(err error) bool { return KindOf(err) == KindIntegration }
func IsSignature(err error) bool   { return KindOf(err) == KindSignature }
