// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"errors"
	"fmt"
)

// StatusError is a non-OK SSH_FXP_STATUS from the server. The command that
// triggered it fails but the session carries on.
type StatusError struct {
	Code uint32
	Msg  string
	Lang string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return statusName(e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Msg, statusName(e.Code))
}

// FatalError marks the session unrecoverable: transport EOF, a truncated
// frame, an unexpected reply kind, or a response id we never asked for.
// Callers must stop using the connection once they see one.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatalf(format string, arg ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(format, arg...)}
}

// IsFatal reports whether err means the session is dead.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// asStatus is errors.As sugar for the common "was this a remote status"
// check.
func asStatus(err error, se **StatusError) bool {
	return errors.As(err, se)
}

// decodeStatus consumes the body of a STATUS frame. It returns nil for
// SSH_FX_OK and a *StatusError otherwise; SSH_FX_EOF is a *StatusError too,
// callers that treat EOF as a sentinel check the code themselves.
func decodeStatus(b *Buffer) error {
	code, err := b.U32()
	if err != nil {
		return fatalf("truncated STATUS frame: %v", err)
	}
	if code == SSH_FX_OK {
		return nil
	}

	// v3 servers are allowed to omit the message on early frames
	var msg, lang []byte
	if b.Left() > 0 {
		if msg, err = b.String(); err != nil {
			return fatalf("truncated STATUS frame: %v", err)
		}
		if lang, err = b.String(); err != nil {
			return fatalf("truncated STATUS frame: %v", err)
		}
	}

	return &StatusError{Code: code, Msg: string(msg), Lang: string(lang)}
}
