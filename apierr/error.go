// Package apierr defines the error value returned by every failed apiclient call.
//
// An Error always carries the HTTP status (0 when no response arrived), the
// origin of the request and the raw server message. Classification adds a
// machine-readable Code together with a UserMessage that can be shown as is.
package apierr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Origin tells whether the failing request targeted our own backend.
type Origin string

const (
	OriginInternal Origin = "internal"
	OriginExternal Origin = "external"
)

// ParseOrigin maps a request tag to an Origin. Only the exact value
// "internal" yields OriginInternal.
func ParseOrigin(tag string) Origin {
	if tag == string(OriginInternal) {
		return OriginInternal
	}
	return OriginExternal
}

// Code is a short classification tag.
type Code string

const (
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodeExpiredToken   Code = "EXPIRED_TOKEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Messages used by classification.
const (
	MsgNoResponse     = "no response from server"
	MsgNotSent        = "request could not be sent"
	MsgProcessing     = "an error occurred while processing the request"
	MsgInvalidRequest = "invalid request"
	MsgLoginRequired  = "login required"
	MsgNotFound       = "requested resource not found"
	MsgUnknown        = "an unknown error occurred"
)

// Error is the application-level error for outbound calls.
type Error struct {
	// Status is the HTTP status code. It is 0 when no response was received.
	Status int
	Origin Origin

	// Message is the raw diagnostic message reported by the server.
	Message string

	// UserMessage and Code are assigned together by classification.
	UserMessage string
	Code        Code

	// Payload echoes the failing response body (400 only).
	Payload Payload

	Method    string
	URL       string
	RequestID string

	// Cause is the underlying transport or refresh error, if any.
	Cause error
}

// New constructs an unclassified Error.
func New(status int, message string, origin Origin, payload ...Payload) *Error {
	if origin == "" {
		origin = OriginExternal
	}
	e := &Error{Status: status, Message: message, Origin: origin}
	if len(payload) > 0 {
		e.Payload = payload[0]
	}
	return e
}

func (e *Error) SetUserMessage(msg string) { e.UserMessage = msg }

func (e *Error) SetPayload(p Payload) { e.Payload = p }

func (e *Error) SetCode(code Code) { e.Code = code }

// Classify sets Code and UserMessage in one step.
func (e *Error) Classify(code Code, userMessage string) {
	e.SetCode(code)
	e.SetUserMessage(userMessage)
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if m := strings.TrimSpace(e.Method); m != "" {
		b.WriteString(strings.ToUpper(m))
		b.WriteString(" ")
	}
	if u := strings.TrimSpace(e.URL); u != "" {
		b.WriteString(u)
		b.WriteString(": ")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, "http %d", e.Status)
	} else {
		b.WriteString("no response")
	}
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(string(e.Code))
		b.WriteString(")")
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// MarshalJSON renders the caller-facing fields.
func (e *Error) MarshalJSON() ([]byte, error) {
	type view struct {
		Status      int     `json:"status"`
		Origin      Origin  `json:"origin"`
		Message     string  `json:"message"`
		UserMessage string  `json:"user_message,omitempty"`
		Code        Code    `json:"code,omitempty"`
		Payload     Payload `json:"payload,omitempty"`
		RequestID   string  `json:"request_id,omitempty"`
	}
	return json.Marshal(view{
		Status:      e.Status,
		Origin:      e.Origin,
		Message:     e.Message,
		UserMessage: e.UserMessage,
		Code:        e.Code,
		Payload:     e.Payload,
		RequestID:   e.RequestID,
	})
}

// Equal reports whether a and b carry the same fields. Cause is ignored.
func Equal(a, b *Error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Status == b.Status &&
		a.Origin == b.Origin &&
		a.Message == b.Message &&
		a.UserMessage == b.UserMessage &&
		a.Code == b.Code &&
		bytes.Equal(a.Payload, b.Payload) &&
		a.Method == b.Method &&
		a.URL == b.URL &&
		a.RequestID == b.RequestID
}

// As extracts *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

func IsExpiredToken(err error) bool { return HasCode(err, CodeExpiredToken) }

func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

func IsInvalidRequest(err error) bool { return HasCode(err, CodeInvalidRequest) }

// IsNoResponse reports whether the request failed before any response arrived.
func IsNoResponse(err error) bool {
	e, ok := As(err)
	return ok && e.Status == 0
}
