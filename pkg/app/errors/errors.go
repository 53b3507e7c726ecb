// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

const (
	// CategoryNoError means the operation completed without error.
	CategoryNoError Category = iota
	// CategoryDataError The client sent invalid data: bad payload, bad
	// parameters, or a business-rule rejection that retrying cannot fix.
	CategoryDataError
	// CategoryUnauthorized The client is not authorized to access the requested resource
	CategoryUnauthorized
	// CategoryForbidden The client is not authenticated to access the requested resource
	CategoryForbidden
	// CategoryResourceNotFound The client is attempting to access a resource that does not exist
	CategoryResourceNotFound
	// CategoryDataConflict The request conflicts with current resource state,
	// e.g. a coupon that already left the active state.
	CategoryDataConflict
	// CategoryGone The resource existed but is permanently unavailable,
	// e.g. a redeemed or burned coupon. Terminal for the client.
	CategoryGone
	// CategoryDependencyFailure A dependent service (ledger, mirror) is failing.
	// Retryable with backoff.
	CategoryDependencyFailure
	// CategoryGeneralError The service failed in an unexpected way
	CategoryGeneralError
)

func (c Category) String() string {
	switch c {
	case CategoryDataError:
		return "CategoryDataError"
	case CategoryUnauthorized:
		return "CategoryUnauthorized"
	case CategoryForbidden:
		return "CategoryForbidden"
	case CategoryResourceNotFound:
		return "CategoryResourceNotFound"
	case CategoryDataConflict:
		return "CategoryDataConflict"
	case CategoryGone:
		return "CategoryGone"
	case CategoryDependencyFailure:
		return "CategoryDependencyFailure"
	default:
		return "CategoryGeneralError"
	}
}

// Wire codes surfaced to clients so they can tell "try again" from
// "this coupon can no longer be redeemed".
const (
	CodeInvalidMnemonic           = "INVALID_MNEMONIC"
	CodeMerchantAccountNotFound   = "MERCHANT_ACCOUNT_NOT_FOUND"
	CodeCollectionCreationFailed  = "COLLECTION_CREATION_FAILED"
	CodeCampaignNotLive           = "CAMPAIGN_NOT_LIVE"
	CodeCapacityExhausted         = "CAPACITY_EXHAUSTED"
	CodeAlreadyClaimedLimit       = "ALREADY_CLAIMED_LIMIT_REACHED"
	CodeTokenExpired              = "TOKEN_EXPIRED"
	CodeTokenSignatureInvalid     = "TOKEN_SIGNATURE_INVALID"
	CodeNftNotOwned               = "NFT_NOT_OWNED"
	CodeOwnershipVerificationFail = "OWNERSHIP_VERIFICATION_FAILED"
	CodeAlreadyRedeemed           = "ALREADY_REDEEMED"
	CodeLedgerCallFailed          = "LEDGER_CALL_FAILED"
)

// ServiceError represents service specific type that
// is used all over the services.
type ServiceError struct {
	Category Category
	Code     string // optional machine-readable wire code
	Message  string
	Err      error
}

// Error method to comply with error interface
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is implements the custom condition to check an error is equal to a service error
func (err ServiceError) Is(target error) bool {
	return err.Message == target.Error()
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category == cat {
		return true
	}
	return false
}

// HasCode checks that provided error is a ServiceError carrying the given wire code
func HasCode(err error, code string) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Code == code {
		return true
	}
	return false
}

// ErrCode extracts the wire code from an error, or "" if it has none
func ErrCode(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}

// Retryable reports whether the client may usefully retry the failed request.
// Business rejections and terminal coupon states are not retryable.
func Retryable(err error) bool {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return false
	}
	return svcErr.Category == CategoryDependencyFailure
}

// GeneralError returns a general service error
// this error mesage sent to the user is "Internal Server Error"
// the error passed is logged in the logger
func GeneralError(err error) error {
	if err == nil {
		err = errors.New("internal server error")
	}
	return &ServiceError{
		Category: CategoryGeneralError,
		Message:  "Internal Server Error",
		Err:      err,
	}
}

// ResourceNotFoundError returns an error with category ResourceNotFound
func ResourceNotFoundError(err error, message string) error {
	return CodedNotFoundError(err, "", message)
}

// CodedNotFoundError returns a ResourceNotFound error carrying a wire code
func CodedNotFoundError(err error, code, message string) error {
	if err == nil {
		err = errors.New("resource not found:" + message)
	}
	return &ServiceError{
		Category: CategoryResourceNotFound,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// BadRequestError returns an error with category DataError
func BadRequestError(err error, message string) error {
	return CodedBadRequestError(err, "", message)
}

// CodedBadRequestError returns a DataError carrying a wire code
func CodedBadRequestError(err error, code, message string) error {
	if err == nil {
		err = errors.New("bad request:" + message)
	}
	return &ServiceError{
		Category: CategoryDataError,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// ForbiddenError returns an error with category CategoryForbidden
func ForbiddenError(err error, message string) error {
	if err == nil {
		err = errors.New("request forbidden")
	}
	return &ServiceError{
		Category: CategoryForbidden,
		Message:  message,
		Err:      err,
	}
}

// UnAuthorizedError returns an error with category CategoryUnauthorized
func UnAuthorizedError(err error, message string) error {
	return UnAuthorizedCodedError(err, "", message)
}

// UnAuthorizedCodedError returns an Unauthorized error carrying a wire code
func UnAuthorizedCodedError(err error, code, message string) error {
	if err == nil {
		err = errors.New("unauthorized")
	}
	return &ServiceError{
		Category: CategoryUnauthorized,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// ConflictError returns an error with category CategoryDataConflict
func ConflictError(err error, message string) error {
	return CodedConflictError(err, "", message)
}

// CodedConflictError returns a DataConflict error carrying a wire code
func CodedConflictError(err error, code, message string) error {
	if err == nil {
		err = errors.New("conflict")
	}
	return &ServiceError{
		Category: CategoryDataConflict,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// TerminalError returns a CategoryGone error: the resource can never be acted
// on again (redeemed, burned, or transferred-away coupons).
func TerminalError(err error, code, message string) error {
	if err == nil {
		err = errors.New("gone:" + message)
	}
	return &ServiceError{
		Category: CategoryGone,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// DependencyError returns a retryable CategoryDependencyFailure error for
// failing downstream systems (ledger node, mirror).
func DependencyError(err error, code, message string) error {
	if err == nil {
		err = errors.New("dependency failure:" + message)
	}
	return &ServiceError{
		Category: CategoryDependencyFailure,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryDataError:
		return http.StatusBadRequest
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryDataConflict:
		return http.StatusConflict
	case CategoryGone:
		return http.StatusGone
	case CategoryDependencyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
