// Package cbcmac computes the 8-byte S0 authentication tag.
//
// The construction is a CBC-MAC variant: the chain is seeded with the
// encrypted IV rather than the IV itself, and only a trailing partial block is
// zero padded. It is kept exactly as the wire protocol defines it.
package cbcmac

import (
	"crypto/subtle"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/crypto/aes"
	"github.com/go-zwave/go-s0/lib/crypto/types"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// TagSize is the number of register bytes kept as the tag
const TagSize = 8

type (
	Key = aes.Key128
	Tag [TagSize]byte
)

// Compute returns the tag of buffer under authKey and iv.
//
// A fresh cipher is keyed for the chain, so no state is shared with any
// payload encryption done by the caller.
func Compute(authKey Key, buffer []byte, iv aes.Block) (Tag, error) {
	bc, err := aes.NewBlockCipher(authKey[:])
	if err != nil {
		return Tag{}, oops.Wrapf(err, "authentication unavailable")
	}
	return chain(bc, buffer, iv)
}

// chain runs the MAC over buffer with an already keyed block cipher
func chain(bc types.BlockEncrypter, buffer []byte, iv aes.Block) (t Tag, err error) {
	if bc.BlockSize() != aes.BlockSize {
		return Tag{}, oops.Wrapf(aes.ErrInvalidBlockLength, "block size %d", bc.BlockSize())
	}

	register := iv
	if err = bc.EncryptBlock(register[:], register[:]); err != nil {
		return Tag{}, chainFailure(err, 0)
	}

	full := len(buffer) / aes.BlockSize * aes.BlockSize
	for off := 0; off < full; off += aes.BlockSize {
		subtle.XORBytes(register[:], register[:], buffer[off:off+aes.BlockSize])
		if err = bc.EncryptBlock(register[:], register[:]); err != nil {
			return Tag{}, chainFailure(err, off)
		}
	}

	// pad and re-encrypt only when bytes remain
	if rest := buffer[full:]; len(rest) > 0 {
		var last aes.Block
		copy(last[:], rest)
		subtle.XORBytes(register[:], register[:], last[:])
		if err = bc.EncryptBlock(register[:], register[:]); err != nil {
			return Tag{}, chainFailure(err, full)
		}
	}

	copy(t[:], register[:TagSize])
	return t, nil
}

// Verify recomputes the tag and compares it to want in constant time
func Verify(authKey Key, buffer []byte, iv aes.Block, want []byte) (bool, error) {
	got, err := Compute(authKey, buffer, iv)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got[:], want) == 1, nil
}

func chainFailure(err error, offset int) error {
	log.WithFields(logger.Fields{
		"at":     "cbcmac.Compute",
		"reason": "block_encrypt_failed",
		"offset": offset,
	}).WithError(err).Error("authentication chain aborted")
	return oops.Wrapf(err, "authentication unavailable at offset %d", offset)
}
