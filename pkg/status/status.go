// Package status defines the outcome taxonomy that crosses the network
// boundary. Every completed call resolves to either a typed value or a
// Status; transport and framing failures are always translated into a
// Status before they reach calling code.
package status

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Trailer metadata keys carrying the status across the wire. The code is a
// decimal integer string; the message is attached only when non-empty.
const (
	TrailerCodeKey    = "grpc-status"
	TrailerMessageKey = "grpc-message"
)

// Status is the outcome of a call when it is not (or not only) a typed
// value. A Status with code OK marks success and carries no error meaning.
type Status struct {
	Code    Code
	Message string
}

func New(c Code, msg string) *Status {
	return &Status{Code: c, Message: msg}
}

func Newf(c Code, format string, args ...interface{}) *Status {
	return &Status{Code: c, Message: fmt.Sprintf(format, args...)}
}

func (s *Status) Error() string {
	if s.Message == "" {
		return fmt.Sprintf("rpc error: code = %s", s.Code)
	}
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.Code, s.Message)
}

// Err returns s as an error, or nil if s represents success.
func (s *Status) Err() error {
	if s == nil || s.Code == OK {
		return nil
	}
	return s
}

// FromError converts an arbitrary failure into a Status. A *Status passes
// through unchanged; context cancellation and deadline expiry map to their
// dedicated codes; anything else is wrapped as INTERNAL with the failure's
// description preserved as the message.
func FromError(err error) *Status {
	if err == nil {
		return New(OK, "")
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	if errors.Is(err, context.Canceled) {
		return New(Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(DeadlineExceeded, err.Error())
	}
	return New(Internal, err.Error())
}

// FromTransportError maps a transport-level failure to the codes it may
// produce: UNAVAILABLE for connection or stream loss, DEADLINE_EXCEEDED for
// an expired deadline.
func FromTransportError(err error) *Status {
	if err == nil {
		return New(OK, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(DeadlineExceeded, err.Error())
	}
	return New(Unavailable, err.Error())
}

// ToTrailer serializes s into trailer metadata. The message key is present
// only for non-empty messages so that round-trips are exact.
func (s *Status) ToTrailer() map[string]string {
	t := map[string]string{
		TrailerCodeKey: strconv.FormatUint(uint64(s.Code), 10),
	}
	if s.Message != "" {
		t[TrailerMessageKey] = s.Message
	}
	return t
}

// FromTrailer parses trailer metadata back into a Status. A missing or
// malformed code field is an error; the caller decides how to surface it.
func FromTrailer(trailer map[string]string) (*Status, error) {
	raw, ok := trailer[TrailerCodeKey]
	if !ok {
		return nil, errors.New("trailer missing " + TrailerCodeKey)
	}
	code, err := ParseCode(raw)
	if err != nil {
		return nil, err
	}
	return &Status{Code: code, Message: trailer[TrailerMessageKey]}, nil
}
