package serial

import "errors"

var (
	ErrFrameTooShort      = errors.New("serial frame too short")
	ErrFrameTooLong       = errors.New("serial frame payload exceeds length byte")
	ErrBadSOF             = errors.New("serial frame does not start with SOF")
	ErrLengthMismatch     = errors.New("serial frame length byte does not match frame size")
	ErrBadChecksum        = errors.New("serial frame checksum mismatch")
	ErrUnexpectedFunction = errors.New("unexpected serial API function")
)
