// Package relayerr defines the closed set of error codes the relay returns across every endpoint, and the HTTP status
// each one maps to. It replaces a hand-maintained per-handler status switch with one table every layer shares.
package relayerr

// Code identifies a specific failure condition. The set is closed: handlers must map every error they can return to
// one of these values, never to an ad-hoc string.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeMalformedAuth      Code = "malformed_auth"
	CodeInvalidSignature   Code = "invalid_signature"
	CodeTimestampOutOfSkew Code = "timestamp_out_of_skew"
	CodeForbidden          Code = "forbidden"
	CodeAgentRevoked       Code = "agent_revoked"
	CodeAgentPending       Code = "agent_pending"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeAlreadyExists      Code = "already_exists"
	CodeBlocked            Code = "blocked"
	CodeNotContacts        Code = "not_contacts"
	CodeGroupNotFound      Code = "group_not_found"
	CodeNotGroupMember     Code = "not_group_member"
	CodeInsufficientRole   Code = "insufficient_role"
	CodeOwnerCannotLeave   Code = "owner_cannot_leave"
	CodeRateLimited        Code = "rate_limited"
	CodeUnverifiedEmail    Code = "unverified_email"
	CodeDisposableEmail    Code = "disposable_email"
	CodeInternal           Code = "internal"
)

// Error is a typed error carrying a relay error code plus a human-readable message. Services return *Error instead of
// throwing across the transport boundary; the HTTP layer only ever inspects the Code field.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New constructs a relay error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// StatusFor returns the HTTP status code associated with a relay error code.
func StatusFor(code Code) int {
	switch code {
	case CodeBadRequest:
		return 400
	case CodeUnauthorized, CodeMalformedAuth, CodeInvalidSignature, CodeTimestampOutOfSkew, CodeUnverifiedEmail:
		return 401
	case CodeForbidden, CodeAgentRevoked, CodeAgentPending, CodeBlocked, CodeInsufficientRole, CodeOwnerCannotLeave, CodeDisposableEmail:
		return 403
	case CodeNotFound, CodeGroupNotFound, CodeNotGroupMember:
		return 404
	case CodeConflict, CodeAlreadyExists, CodeNotContacts:
		return 409
	case CodeRateLimited:
		return 429
	default:
		return 500
	}
}
