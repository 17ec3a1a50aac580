package security

import (
	"errors"

	"github.com/samber/oops"
)

// Framing errors are raised before any cryptographic work.
var (
	ErrFrameTooShort     = errors.New("security: encapsulated frame too short")
	ErrFrameMalformed    = errors.New("security: malformed security frame")
	ErrPlaintextTooShort = errors.New("security: plaintext shorter than a command")
	ErrPlaintextTooLong  = errors.New("security: plaintext does not fit a single frame")
)

var (
	// ErrCipherFailure means a block cipher primitive failed; the operation is aborted
	ErrCipherFailure = errors.New("security: cipher primitive failed")
	// ErrMacMismatch means the authentication tag did not verify; no plaintext is released
	ErrMacMismatch = errors.New("security: authentication tag mismatch")
)

// Handshake errors leave the peer state unchanged.
var (
	ErrHandshakeViolation = errors.New("security: command not valid in current handshake state")
	ErrNoCommonScheme     = errors.New("security: peer reported no common security scheme")
	ErrSecurityRequired   = errors.New("security: command class requires a secured peer")
	ErrPendingQueueFull   = errors.New("security: too many payloads waiting for a peer nonce")
)

// Nonce errors
var (
	ErrNonceNotFound    = errors.New("security: no outstanding local nonce with that id")
	ErrNonceExpired     = errors.New("security: nonce expired")
	ErrNoPeerNonce      = errors.New("security: no nonce held for peer")
	ErrNonceRateLimited = errors.New("security: nonce requests arriving too fast")
)

func cipherFailure(err error) error {
	return oops.Errorf("%w: %w", ErrCipherFailure, err)
}
