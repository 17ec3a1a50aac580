package aes

import (
	"crypto/subtle"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/crypto/types"
	"github.com/samber/oops"
)

// OFBCipher implements the Encrypter and Decrypter interfaces using AES-128 in
// output feedback mode. Encryption and decryption are the same keystream XOR.
type OFBCipher struct {
	Key Key128
	IV  Block
}

var (
	_ types.Encrypter = (*OFBCipher)(nil)
	_ types.Decrypter = (*OFBCipher)(nil)
)

// Encrypt XORs data with the OFB keystream
func (o *OFBCipher) Encrypt(data []byte) ([]byte, error) {
	log.WithField("data_length", len(data)).Debug("Encrypting data")
	return o.xorKeyStream(data)
}

// Decrypt XORs data with the OFB keystream
func (o *OFBCipher) Decrypt(data []byte) ([]byte, error) {
	log.WithField("data_length", len(data)).Debug("Decrypting data")
	return o.xorKeyStream(data)
}

// xorKeyStream never mutates o.IV; every call starts a new keystream from it.
func (o *OFBCipher) xorKeyStream(in []byte) ([]byte, error) {
	bc, err := NewBlockCipher(o.Key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(in))
	state := o.IV
	for off := 0; off < len(in); off += BlockSize {
		if err := bc.EncryptBlock(state[:], state[:]); err != nil {
			log.WithFields(logger.Fields{
				"at":     "OFBCipher.xorKeyStream",
				"offset": off,
			}).WithError(err).Error("keystream generation failed")
			return nil, oops.Wrapf(err, "keystream block at offset %d", off)
		}
		end := min(off+BlockSize, len(in))
		subtle.XORBytes(out[off:end], in[off:end], state[:end-off])
	}
	return out, nil
}
