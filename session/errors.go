// Package session implements the transport-layer session core: message
// dispatch, service routing, the pending-write queue, rekey triggers,
// timeouts, and SSH-compliant disconnect (distilled spec §4.6/§4.7/§7).
//
// Copyright (c) 2017-2019 Russell Magee
// Licensed under the terms of the MIT license (see LICENSE.mit in this
// distribution)
package session

import (
	"fmt"

	"blitter.com/go/sshcore/proto"
)

// Kind identifies one of the distilled spec's error-taxonomy buckets
// (§7, grounded on the teacher's CSOType/CSExtendedCode enum-plus-String()
// status convention).
type Kind int

// Error taxonomy (distilled spec §7).
const (
	KindProtocolError Kind = iota
	KindMacError
	KindKeyExchangeFailure
	KindServiceNotAvailable
	KindTimeout
	KindClosingState
	KindUpstreamServiceError
)

var kindNames = map[Kind]string{
	KindProtocolError:        "ProtocolError",
	KindMacError:             "MacError",
	KindKeyExchangeFailure:   "KeyExchangeFailure",
	KindServiceNotAvailable:  "ServiceNotAvailable",
	KindTimeout:              "Timeout",
	KindClosingState:         "ClosingState",
	KindUpstreamServiceError: "UpstreamServiceError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UnknownErrorKind"
}

// Error is the session core's typed error: a taxonomy Kind, an RFC 4253
// §11.1 disconnect reason code (0 if the error never reaches the wire,
// e.g. ClosingState), a human-readable message, and the underlying cause
// if any.
type Error struct {
	Kind   Kind
	Reason uint32
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Msg)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewProtocolError wraps a framing/identification failure as a fatal
// ProtocolError, RFC 4253 reason 2.
func NewProtocolError(msg string, cause error) *Error {
	return &Error{Kind: KindProtocolError, Reason: proto.DisconnectProtocolError, Msg: msg, Cause: cause}
}

// NewMacError wraps a MAC verification failure, RFC 4253 reason 5.
func NewMacError(cause error) *Error {
	return &Error{Kind: KindMacError, Reason: proto.DisconnectMacError, Msg: "MAC verification failed", Cause: cause}
}

// NewKeyExchangeFailure wraps a KEX negotiation or algorithm failure.
// reason is usually KEY_EXCHANGE_FAILED (3) or HOST_KEY_NOT_VERIFIABLE (9).
func NewKeyExchangeFailure(reason uint32, msg string, cause error) *Error {
	return &Error{Kind: KindKeyExchangeFailure, Reason: reason, Msg: msg, Cause: cause}
}

// NewServiceNotAvailable wraps an unrecognized SERVICE_REQUEST, RFC 4253
// reason 7.
func NewServiceNotAvailable(name string) *Error {
	return &Error{Kind: KindServiceNotAvailable, Reason: proto.DisconnectServiceNotAvailable,
		Msg: fmt.Sprintf("service not available: %s", name)}
}

// NewTimeout wraps an auth or idle timeout, surfaced as a fatal
// ProtocolError per the distilled spec.
func NewTimeout(what string) *Error {
	return &Error{Kind: KindTimeout, Reason: proto.DisconnectProtocolError, Msg: "timeout: " + what}
}

// ErrClosingState is returned to callers attempting an operation after the
// session has begun closing; it never reaches the wire.
var ErrClosingState = &Error{Kind: KindClosingState, Msg: "operation issued after closing"}

// NewUpstreamServiceError wraps a failure propagated from the current
// Service. If the service attached a disconnect reason, it is carried
// through; otherwise the session closes silently (Reason left 0).
func NewUpstreamServiceError(reason uint32, cause error) *Error {
	return &Error{Kind: KindUpstreamServiceError, Reason: reason, Msg: "upstream service error", Cause: cause}
}
