// Package apperr defines the gateway's error taxonomy: every failure that can
// reach a client is tagged with a stable string kind, and the HTTP layer maps
// kinds to status codes and the wire envelope {error, message?, details?}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, client-visible error identifier. Kinds are part of the
// API contract and must not be renamed.
type Kind string

const (
	// Input validation.
	KindWalletRequired Kind = "wallet_required"
	KindWalletInvalid  Kind = "wallet_invalid"
	KindCIDRequired    Kind = "cid_required"
	KindCIDInvalid     Kind = "cid_invalid"
	KindNameRequired   Kind = "name_required"
	KindCIDNotFound    Kind = "cid_not_found"

	// PQ envelope.
	KindPQRequired          Kind = "pq_required"
	KindPQUnsupportedKEM    Kind = "pq_unsupported_kem"
	KindPQKeyMismatch       Kind = "pq_key_mismatch"
	KindPQBadBody           Kind = "pq_bad_body"
	KindPQInvalidKEMCt      Kind = "pq_invalid_kem_ct"
	KindPQInvalidIV         Kind = "pq_invalid_iv"
	KindPQInvalidTag        Kind = "pq_invalid_tag"
	KindPQInvalidCiphertext Kind = "pq_invalid_ciphertext"
	KindPQDecapsulateFailed Kind = "pq_decapsulate_failed"
	KindPQDecryptFailed     Kind = "pq_decrypt_failed"
	KindPQEncryptFailed     Kind = "pq_encrypt_failed"
	KindPQBadEnvelope       Kind = "pq_bad_envelope"

	// Wallet authentication (signature, nonce, timestamp).
	KindAuthFailed Kind = "auth_failed"

	// Chain / plan.
	KindChainUnreachable     Kind = "chain_unreachable"
	KindPlanValidationFailed Kind = "plan_validation_failed"
	KindBalanceTooLow        Kind = "balance_too_low"

	// Ingest.
	KindUploadTokenRequired Kind = "upload_token_required"
	KindUploadTokenInvalid  Kind = "upload_token_invalid"
	KindCARTooLarge         Kind = "car_too_large"

	// CAS-daemon.
	KindIPFSPinFailed      Kind = "ipfs_pin_failed"
	KindIPFSUnpinFailed    Kind = "ipfs_unpin_failed"
	KindIPFSGatewayError   Kind = "ipfs_gateway_error"
	KindIPFSUnavailable    Kind = "ipfs_unavailable"
	KindNoUsableMultiaddrs Kind = "no_usable_multiaddrs"

	KindInternal Kind = "internal_error"
)

// httpStatus maps each kind to its HTTP status. Kinds absent from the table
// respond 500.
var httpStatus = map[Kind]int{
	KindWalletRequired: http.StatusBadRequest,
	KindWalletInvalid:  http.StatusBadRequest,
	KindCIDRequired:    http.StatusBadRequest,
	KindCIDInvalid:     http.StatusBadRequest,
	KindNameRequired:   http.StatusBadRequest,
	KindCIDNotFound:    http.StatusNotFound,

	KindPQRequired:          http.StatusBadRequest,
	KindPQUnsupportedKEM:    http.StatusBadRequest,
	KindPQKeyMismatch:       http.StatusBadRequest,
	KindPQBadBody:           http.StatusBadRequest,
	KindPQInvalidKEMCt:      http.StatusBadRequest,
	KindPQInvalidIV:         http.StatusBadRequest,
	KindPQInvalidTag:        http.StatusBadRequest,
	KindPQInvalidCiphertext: http.StatusBadRequest,
	KindPQDecapsulateFailed: http.StatusBadRequest,
	KindPQDecryptFailed:     http.StatusBadRequest,
	KindPQEncryptFailed:     http.StatusInternalServerError,
	KindPQBadEnvelope:       http.StatusBadRequest,

	KindAuthFailed: http.StatusUnauthorized,

	KindChainUnreachable:     http.StatusServiceUnavailable,
	KindPlanValidationFailed: http.StatusForbidden,
	KindBalanceTooLow:        http.StatusPaymentRequired,

	KindUploadTokenRequired: http.StatusBadRequest,
	KindUploadTokenInvalid:  http.StatusUnauthorized,
	KindCARTooLarge:         http.StatusRequestEntityTooLarge,

	KindIPFSPinFailed:      http.StatusBadGateway,
	KindIPFSUnpinFailed:    http.StatusBadGateway,
	KindIPFSGatewayError:   http.StatusBadGateway,
	KindIPFSUnavailable:    http.StatusServiceUnavailable,
	KindNoUsableMultiaddrs: http.StatusServiceUnavailable,

	KindInternal: http.StatusInternalServerError,
}

// Error is a kind-tagged error. Message is safe to show to clients; Details
// carries short diagnostic context (never internal stack state).
type Error struct {
	Kind    Kind
	Message string
	Details string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a tagged error with a client-visible message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a tagged error with a formatted client-visible message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error. The cause is logged server-side but never
// serialized to clients.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches client-visible detail text and returns the error.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from any error chain; unknown errors are
// internal_error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus returns the response status for an error chain.
func HTTPStatus(err error) int {
	if s, ok := httpStatus[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Payload renders the wire error envelope {error, message?, details?}.
func Payload(err error) map[string]any {
	body := map[string]any{"error": string(KindOf(err))}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Message != "" {
			body["message"] = ae.Message
		}
		if ae.Details != "" {
			body["details"] = ae.Details
		}
	}
	return body
}
