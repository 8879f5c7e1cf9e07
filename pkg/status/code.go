package status

import (
	"fmt"
	"strconv"
)

// Code is an RPC status code. The set of codes is closed and matches the
// gRPC status taxonomy; values are stable on the wire.
type Code uint32

const (
	OK                 Code = 0
	Canceled           Code = 1
	Unknown            Code = 2
	InvalidArgument    Code = 3
	DeadlineExceeded   Code = 4
	NotFound           Code = 5
	AlreadyExists      Code = 6
	PermissionDenied   Code = 7
	ResourceExhausted  Code = 8
	FailedPrecondition Code = 9
	Aborted            Code = 10
	OutOfRange         Code = 11
	Unimplemented      Code = 12
	Internal           Code = 13
	Unavailable        Code = 14
	DataLoss           Code = 15
	Unauthenticated    Code = 16

	maxCode = Unauthenticated
)

var codeNames = map[Code]string{
	OK:                 "OK",
	Canceled:           "CANCELLED",
	Unknown:            "UNKNOWN",
	InvalidArgument:    "INVALID_ARGUMENT",
	DeadlineExceeded:   "DEADLINE_EXCEEDED",
	NotFound:           "NOT_FOUND",
	AlreadyExists:      "ALREADY_EXISTS",
	PermissionDenied:   "PERMISSION_DENIED",
	ResourceExhausted:  "RESOURCE_EXHAUSTED",
	FailedPrecondition: "FAILED_PRECONDITION",
	Aborted:            "ABORTED",
	OutOfRange:         "OUT_OF_RANGE",
	Unimplemented:      "UNIMPLEMENTED",
	Internal:           "INTERNAL",
	Unavailable:        "UNAVAILABLE",
	DataLoss:           "DATA_LOSS",
	Unauthenticated:    "UNAUTHENTICATED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE(%d)", uint32(c))
}

// Valid reports whether c is one of the defined status codes.
func (c Code) Valid() bool {
	return c <= maxCode
}

// ParseCode parses the wire representation of a code, a decimal integer
// string as carried in the status trailer.
func ParseCode(s string) (Code, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Unknown, fmt.Errorf("malformed status code %q: %w", s, err)
	}
	c := Code(n)
	if !c.Valid() {
		return Unknown, fmt.Errorf("status code %d out of range", n)
	}
	return c, nil
}
