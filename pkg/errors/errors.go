// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package errors provides an error type that carries an optional wrapped
// cause, so that callers can test for a specific sentinel error anywhere in
// a wrap chain without relying on fmt.Errorf's %w and errors.As/Is ceremony.
package errors

import "encoding/json"

// Error extends the standard error interface with a wrapped cause.
type Error interface {
	error

	// Msg returns the top-level error message, without any wrapped cause.
	Msg() string

	// Err returns the wrapped cause, or nil if there is none.
	Err() Error
}

type customError struct {
	msg string
	err Error
}

var _ Error = (*customError)(nil)

// New returns an Error with no wrapped cause.
func New(text string) Error {
	return &customError{
		msg: text,
		err: nil,
	}
}

// Wrap returns wrapper if wrapped is nil, otherwise it returns a new Error
// with wrapper as the top-level message and wrapped folded in as its cause.
// If wrapper is nil, Wrap returns wrapped unchanged.
func Wrap(wrapper, wrapped error) Error {
	if wrapper == nil {
		return cast(wrapped)
	}
	if wrapped == nil {
		return cast(wrapper)
	}

	w, ok := wrapper.(Error)
	if !ok {
		w = &customError{msg: wrapper.Error()}
	}

	return &customError{
		msg: w.Msg(),
		err: Wrap(w.Err(), wrapped),
	}
}

func cast(err error) Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(Error); ok {
		return e
	}
	return &customError{msg: err.Error()}
}

func (ce *customError) Error() string {
	if ce == nil {
		return ""
	}
	if ce.err == nil {
		return ce.msg
	}
	return ce.msg + " : " + ce.err.Error()
}

func (ce *customError) Msg() string {
	return ce.msg
}

func (ce *customError) Err() Error {
	return ce.err
}

// MarshalJSON renders an Error as {"error": "...", "msg": "..."} so it can
// be included unaltered in an enveloped error-topic publish.
func (ce *customError) MarshalJSON() ([]byte, error) {
	val := ""
	if ce.err != nil {
		val = ce.err.Msg()
	}
	return json.Marshal(&struct {
		Err string `json:"error"`
		Msg string `json:"msg"`
	}{
		Err: val,
		Msg: ce.msg,
	})
}

// Contains reports whether target appears anywhere in err's wrap chain,
// comparing by message since Error values produced by distinct New calls
// with equal text are considered equivalent.
func Contains(err, target error) bool {
	if err == nil || target == nil {
		return err == target
	}

	ce, ok := err.(Error)
	if !ok {
		return err.Error() == target.Error()
	}
	ct, ok := target.(Error)
	if !ok {
		ct = &customError{msg: target.Error()}
	}

	for e := Error(ce); e != nil; e = e.Err() {
		if e.Msg() == ct.Msg() {
			return true
		}
	}

	return false
}
