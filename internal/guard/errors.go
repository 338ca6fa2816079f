package guard

import (
	"context"
	"errors"
	"net/http"

	"github.com/mbd888/securityguard/internal/audit"
	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/intel"
	"github.com/mbd888/securityguard/internal/pagination"
	"github.com/mbd888/securityguard/internal/registry"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/security"
	"github.com/mbd888/securityguard/internal/sysstate"
	"github.com/mbd888/securityguard/internal/thresholds"
	"github.com/mbd888/securityguard/internal/validation"
	"github.com/mbd888/securityguard/internal/walletscan"
	"github.com/mbd888/securityguard/internal/webhooks"
)

var (
	ErrUnknownMethod = errors.New("guard: unknown method")
	ErrInvalidParams = errors.New("guard: invalid params")
	ErrUnauthorized  = errors.New("guard: unauthorized")
)

// Code is a stable wire error code.
type Code string

const (
	CodeInvalidAddress      Code = "invalid_address"
	CodeInvalidTransaction  Code = "invalid_transaction"
	CodeInvalidCalldata     Code = "invalid_calldata"
	CodeInvalidThresholds   Code = "invalid_thresholds"
	CodeInvalidReason       Code = "invalid_reason"
	CodeInvalidState        Code = "invalid_state"
	CodeInvalidParams       Code = "invalid_params"
	CodeUnauthorized        Code = "unauthorized"
	CodeNotFound            Code = "not_found"
	CodeMethodNotFound      Code = "method_not_found"
	CodeRegistryUnavailable Code = "registry_unavailable"
	CodeInternal            Code = "internal_error"
)

// Error is the wire form of a failed call.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	err     error
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func (e *Error) Unwrap() error { return e.err }

// Retryable reports whether the same call may succeed later. Validation and
// authorization failures never do.
func (e *Error) Retryable() bool {
	return e.Code == CodeRegistryUnavailable
}

type rule struct {
	targets []error
	code    Code
	status  int
}

// rules are checked in order. Wrapping errors come before the errors they
// wrap: a scan with a malformed recipient is an invalid transaction, not a
// bare invalid address.
var rules = []rule{
	{[]error{ErrUnauthorized, sysstate.ErrUnauthorized}, CodeUnauthorized, http.StatusForbidden},
	{[]error{ErrUnknownMethod}, CodeMethodNotFound, http.StatusNotFound},
	{[]error{risk.ErrInvalidTransaction}, CodeInvalidTransaction, http.StatusBadRequest},
	{[]error{chain.ErrInvalidAddress, detector.ErrInvalidAddress}, CodeInvalidAddress, http.StatusBadRequest},
	{[]error{chain.ErrInvalidCalldata}, CodeInvalidCalldata, http.StatusBadRequest},
	{[]error{thresholds.ErrInvalidThresholds, risk.ErrInvalidParams}, CodeInvalidThresholds, http.StatusBadRequest},
	{[]error{sysstate.ErrInvalidReason}, CodeInvalidReason, http.StatusBadRequest},
	{[]error{sysstate.ErrInvalidState}, CodeInvalidState, http.StatusConflict},
	{[]error{
		ErrInvalidParams,
		validation.ErrInvalid,
		pagination.ErrInvalidCursor,
		chain.ErrInvalidAmount,
		audit.ErrInvalidApproval,
		audit.ErrInvalidDApp,
		webhooks.ErrInvalidConfig,
		security.ErrUnsafeEndpoint,
	}, CodeInvalidParams, http.StatusBadRequest},
	{[]error{
		risk.ErrScanNotFound,
		audit.ErrNotFound,
		thresholds.ErrNotFound,
	}, CodeNotFound, http.StatusNotFound},
	{[]error{
		risk.ErrRegistryUnavailable,
		registry.ErrUnavailable,
		thresholds.ErrUnavailable,
		audit.ErrUnavailable,
		intel.ErrUnavailable,
		walletscan.ErrUnavailable,
		context.DeadlineExceeded,
	}, CodeRegistryUnavailable, http.StatusServiceUnavailable},
}

// Classify maps err onto a wire error. Unknown errors become internal_error
// with a generic message.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var fields validation.Errors
	if errors.As(err, &fields) {
		code := CodeInvalidParams
		switch {
		case fields.Has(validation.TagAddress):
			code = CodeInvalidAddress
		case fields.Has(validation.TagCalldata):
			code = CodeInvalidCalldata
		}
		return &Error{Code: code, Message: fields.Error(), Status: http.StatusBadRequest, err: err}
	}

	for _, r := range rules {
		for _, target := range r.targets {
			if errors.Is(err, target) {
				msg := err.Error()
				if r.code == CodeUnauthorized {
					msg = "unauthorized"
				}
				return &Error{Code: r.code, Message: msg, Status: r.status, err: err}
			}
		}
	}
	return &Error{Code: CodeInternal, Message: "internal error", Status: http.StatusInternalServerError, err: err}
}
