// Package errors defines the error taxonomy shared by all request handlers.
// Every error that can reach a client carries a stable code; the category
// decides whether the failure is the caller's fault or the server's.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error for reporting and logging purposes.
type Category string

const (
	// CategoryValidation covers malformed or missing input.
	CategoryValidation Category = "validation"
	// CategoryConflict covers duplicate ids, rate limits and other state conflicts.
	CategoryConflict Category = "conflict"
	// CategoryAuth covers requests from connections with no bound identity.
	CategoryAuth Category = "auth"
	// CategoryNotFound covers lookups of records that do not exist.
	CategoryNotFound Category = "not_found"
	// CategoryIntegrity covers cryptographic self-check failures.
	CategoryIntegrity Category = "integrity"
	// CategoryTransport covers failures reported by the external faucet server.
	CategoryTransport Category = "transport"
	// CategoryInternal covers unexpected server-side failures.
	CategoryInternal Category = "internal"
)

// Code is a stable, client-facing error code.
type Code string

const (
	CodeIDInvalid                      Code = "IdInvalid"
	CodeIDLength                       Code = "IdLength"
	CodeIDExists                       Code = "IdExists"
	CodeLoginFailed                    Code = "LoginFailed"
	CodeLoginOrRegisterRequired        Code = "LoginOrRegisterRequired"
	CodeMessageTooLong                 Code = "MessageTooLong"
	CodeInvalidPayload                 Code = "InvalidPayload"
	CodeNotFound                       Code = "NotFound"
	CodeExists                         Code = "Exists"
	CodeWalletAlreadyAssociated        Code = "WalletAlreadyAssociated"
	CodeAlreadyApproved                Code = "AlreadyApproved"
	CodeBanned                         Code = "Banned"
	CodeFaucetTransferInProgress       Code = "FaucetTransferInProgress"
	CodeFaucetRequestLimitReached      Code = "FaucetRequestLimitReached"
	CodeSignaturePreVerificationFailed Code = "SignaturePreVerificationFailed"
	CodeFaucetServerError              Code = "FaucetServerError"
	CodeUnknownEvent                   Code = "UnknownEvent"
	CodeRateLimited                    Code = "RateLimited"
	CodeInternal                       Code = "Internal"
)

// CodedError is an error with a client-facing code and a category.
type CodedError struct {
	Code     Code
	Category Category
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// Is matches coded errors by code, so sentinel comparisons work with errors.Is.
func (e *CodedError) Is(target error) bool {
	var coded *CodedError
	if errors.As(target, &coded) {
		return e.Code == coded.Code
	}
	return false
}

// ClientMessage returns the text sent back to the caller. Internal errors are
// masked so server details never leak into callback error slots.
func (e *CodedError) ClientMessage() string {
	if e.Category == CategoryInternal {
		return "something went wrong, please try again later"
	}
	return e.Message
}

// New creates a coded error.
func New(code Code, category Category, message string) *CodedError {
	return &CodedError{Code: code, Category: category, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, category Category, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Category: category, Message: fmt.Sprintf(format, args...)}
}

// Validation errors

// NewIDInvalid reports a handle that fails the allowed pattern.
func NewIDInvalid(handle string) *CodedError {
	return Newf(CodeIDInvalid, CategoryValidation, "invalid user id: %s", handle)
}

// NewIDLength reports a handle outside the allowed length range.
func NewIDLength(handle string) *CodedError {
	return Newf(CodeIDLength, CategoryValidation, "user id must be 3 to 15 characters: %s", handle)
}

// NewInvalidPayload reports a missing or malformed field in a request payload.
func NewInvalidPayload(field, reason string) *CodedError {
	return Newf(CodeInvalidPayload, CategoryValidation, "invalid field %q: %s", field, reason)
}

// NewMessageTooLong reports a chat message over the length limit.
func NewMessageTooLong(limit int) *CodedError {
	return Newf(CodeMessageTooLong, CategoryValidation, "message exceeds maximum length of %d characters", limit)
}

// Auth errors

// NewAuthRequired reports a request from a connection with no bound identity.
func NewAuthRequired() *CodedError {
	return New(CodeLoginOrRegisterRequired, CategoryAuth, "please login or register first")
}

// NewLoginFailed reports an unknown handle or a secret mismatch. The message is
// deliberately identical for both cases.
func NewLoginFailed() *CodedError {
	return New(CodeLoginFailed, CategoryAuth, "invalid credentials")
}

// Conflict errors

// NewIDExists reports a registration against a taken handle.
func NewIDExists(handle string) *CodedError {
	return Newf(CodeIDExists, CategoryConflict, "user id already taken: %s", handle)
}

// NewExists reports a duplicate record.
func NewExists(what string) *CodedError {
	return Newf(CodeExists, CategoryConflict, "%s already exists", what)
}

// NewWalletAlreadyAssociated reports a company wallet address already in use.
func NewWalletAlreadyAssociated(address string) *CodedError {
	return Newf(CodeWalletAlreadyAssociated, CategoryConflict, "wallet address already associated with a company: %s", address)
}

// NewAlreadyApproved reports a write against an approved time-keeping entry.
func NewAlreadyApproved(hash string) *CodedError {
	return Newf(CodeAlreadyApproved, CategoryConflict, "time keeping entry already approved: %s", hash)
}

// NewBanned reports an action blocked by a project ban list.
func NewBanned(id string) *CodedError {
	return Newf(CodeBanned, CategoryConflict, "%s is banned from time keeping on this project", id)
}

// NewFaucetTransferInProgress reports a faucet request while another is running.
func NewFaucetTransferInProgress() *CodedError {
	return New(CodeFaucetTransferInProgress, CategoryConflict, "a faucet transfer is already in progress")
}

// NewFaucetRequestLimitReached reports the rolling-window faucet limit.
func NewFaucetRequestLimitReached(limit int) *CodedError {
	return Newf(CodeFaucetRequestLimitReached, CategoryConflict, "faucet request limit of %d in 24 hours reached", limit)
}

// NewRateLimited reports a connection sending events faster than allowed.
func NewRateLimited() *CodedError {
	return New(CodeRateLimited, CategoryConflict, "too many requests, slow down")
}

// Not-found errors

// NewNotFound reports a missing record.
func NewNotFound(resource, key string) *CodedError {
	return Newf(CodeNotFound, CategoryNotFound, "%s not found: %s", resource, key)
}

// Integrity and transport errors

// NewSignaturePreVerificationFailed reports a failed self-check of a freshly
// produced signature, which points at misconfigured key material.
func NewSignaturePreVerificationFailed() *CodedError {
	return New(CodeSignaturePreVerificationFailed, CategoryIntegrity, "signature pre-verification failed")
}

// NewFaucetServerError wraps a failure reported by the external faucet server.
func NewFaucetServerError(cause error) *CodedError {
	return &CodedError{
		Code:     CodeFaucetServerError,
		Category: CategoryTransport,
		Message:  "faucet server reported an error",
		Cause:    cause,
	}
}

// NewUnknownEvent reports an event name outside the supported set.
func NewUnknownEvent(event string) *CodedError {
	return Newf(CodeUnknownEvent, CategoryValidation, "unknown event: %s", event)
}

// NewInternal wraps an unexpected server-side failure.
func NewInternal(message string, cause error) *CodedError {
	return &CodedError{Code: CodeInternal, Category: CategoryInternal, Message: message, Cause: cause}
}

// CodeOf extracts the code from an error, defaulting to Internal for errors
// produced outside this package.
func CodeOf(err error) Code {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// CategoryOf extracts the category from an error.
func CategoryOf(err error) Category {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Category
	}
	return CategoryInternal
}

// IsClientFault reports whether the error is the caller's fault rather than a
// server failure; client-fault errors are never logged as server faults.
func IsClientFault(err error) bool {
	switch CategoryOf(err) {
	case CategoryValidation, CategoryConflict, CategoryAuth, CategoryNotFound:
		return true
	default:
		return false
	}
}

// As re-exports errors.As so callers do not need both error packages.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is re-exports errors.Is so callers do not need both error packages.
func Is(err, target error) bool { return errors.Is(err, target) }
