package principal

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeVerificationTimeout = "VERIFICATION_TIMEOUT"
	TextCodeVerificationFailed  = "VERIFICATION_FAILED"
	TextCodeLoginFailed         = "LOGIN_FAILED"
	TextCodeMFAFailed           = "MFA_FAILED"
	TextCodeLogoutFailed        = "LOGOUT_FAILED"
	TextCodeNoPendingMFA        = "NO_PENDING_MFA"
	TextCodeTokenMalformed      = "TOKEN_MALFORMED"
)

// ErrVerificationTimeout is returned when the current-user verification call
// does not resolve before the hard deadline. Treated as verification failure.
var ErrVerificationTimeout = goerrors.New("current user verification timed out", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerificationTimeout).
	WithCode(goerrors.CodeUnauthorized)

// ErrVerificationFailed is returned when a stored token is rejected by the backend.
var ErrVerificationFailed = goerrors.New("current user verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerificationFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrLoginFailed surfaces a failed login attempt; the session stays unauthenticated.
var ErrLoginFailed = goerrors.New("login failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeLoginFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrMFAFailed surfaces a failed second-factor verification; the session stays MFA pending.
var ErrMFAFailed = goerrors.New("mfa verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeMFAFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrLogoutFailed is logged, never fatal: token and principal cleanup still runs.
var ErrLogoutFailed = goerrors.New("logout request failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeLogoutFailed)

// ErrNoPendingMFA is returned when a second factor is submitted outside an MFA flow.
var ErrNoPendingMFA = goerrors.New("no pending mfa challenge", goerrors.CategoryConflict).
	WithTextCode(TextCodeNoPendingMFA).
	WithCode(goerrors.CodeConflict)

// ErrTokenMalformed is returned when a stored token cannot be decoded for inspection.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeBadRequest)

// IsVerificationTimeout reports whether err originated from the verify deadline.
func IsVerificationTimeout(err error) bool {
	return hasTextCode(err, TextCodeVerificationTimeout)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.TextCode == code
	}
	return false
}
