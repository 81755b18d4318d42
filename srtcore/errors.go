// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"fmt"
	"sync"
)

// ErrorCode identifies the class of a configuration-layer failure. Only
// EInvParam is ever produced by the option machinery itself; EConnRej is
// used when peer-supplied handshake data fails validation during accept.
type ErrorCode int

const (
	EUnknown  ErrorCode = -1
	ESuccess  ErrorCode = 0
	EInvParam ErrorCode = 5003
	EConnRej  ErrorCode = 5404
)

func (c ErrorCode) String() string {
	switch c {
	case ESuccess:
		return "success"
	case EInvParam:
		return "invalid parameter"
	case EConnRej:
		return "connection rejected"
	}
	return "unknown error"
}

// Error is the error type surfaced by this package. Every validation
// failure is reported to the immediate caller and also recorded in the
// last-error slot; nothing is silently swallowed.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func errInvParam(format string, args ...interface{}) error {
	err := &Error{Code: EInvParam, Msg: fmt.Sprintf(format, args...)}
	storeLastError(err)
	return err
}

func errConnRej(format string, args ...interface{}) error {
	err := &Error{Code: EConnRej, Msg: fmt.Sprintf(format, args...)}
	storeLastError(err)
	return err
}

var (
	lastErrorLock sync.Mutex
	lastError     *Error
)

func storeLastError(err *Error) {
	lastErrorLock.Lock()
	lastError = err
	lastErrorLock.Unlock()
}

// GetLastError returns the most recent Error produced by this package, or
// nil if none has occurred since the last call to ClearLastError. This is
// the out-of-band descriptor companion to the error returned in-band from
// each call.
func GetLastError() *Error {
	lastErrorLock.Lock()
	defer lastErrorLock.Unlock()
	return lastError
}

// ClearLastError resets the last-error slot.
func ClearLastError() {
	lastErrorLock.Lock()
	lastError = nil
	lastErrorLock.Unlock()
}
