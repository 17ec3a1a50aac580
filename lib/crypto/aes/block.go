package aes

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/crypto/types"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	// BlockSize is the AES block size in bytes
	BlockSize = aes.BlockSize
	// KeySize is the only key size used by S0 (AES-128)
	KeySize = 16
)

var (
	ErrInvalidKeyLength   = errors.New("aes: key must be 16 bytes")
	ErrCipherNotKeyed     = errors.New("aes: block cipher used before Reset")
	ErrInvalidBlockLength = errors.New("aes: input is not exactly one block")
)

// Key128 is an AES-128 key
type Key128 [KeySize]byte

// Block is one AES block
type Block [BlockSize]byte

// BlockCipher is a single-block AES-128 ECB primitive.
//
// A BlockCipher carries no chaining state of its own, but callers that build a
// chained construction on top of it must key it with Reset before every
// independent chain and must never share one instance between a MAC
// computation and a payload encryption.
type BlockCipher struct {
	block cipher.Block
}

var _ types.BlockEncrypter = (*BlockCipher)(nil)

// NewBlockCipher returns a BlockCipher keyed with key
func NewBlockCipher(key []byte) (*BlockCipher, error) {
	c := &BlockCipher{}
	if err := c.Reset(key); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset discards the current key schedule and installs key.
// On error the cipher is left unkeyed.
func (c *BlockCipher) Reset(key []byte) error {
	c.block = nil
	if len(key) != KeySize {
		log.WithFields(logger.Fields{
			"at":         "BlockCipher.Reset",
			"reason":     "invalid_key_length",
			"key_length": len(key),
		}).Error("refusing to key AES-128 cipher")
		return oops.Wrapf(ErrInvalidKeyLength, "got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		log.WithError(err).Error("Failed to create AES cipher")
		return oops.Wrapf(err, "failed to create AES cipher")
	}
	c.block = block
	return nil
}

// BlockSize returns the cipher block size
func (c *BlockCipher) BlockSize() int {
	return BlockSize
}

// EncryptBlock encrypts exactly one block from src into dst. dst and src may overlap entirely.
func (c *BlockCipher) EncryptBlock(dst, src []byte) error {
	if c == nil || c.block == nil {
		return ErrCipherNotKeyed
	}
	if len(src) != BlockSize || len(dst) != BlockSize {
		return oops.Wrapf(ErrInvalidBlockLength, "src=%d dst=%d", len(src), len(dst))
	}
	c.block.Encrypt(dst, src)
	return nil
}

// Encrypt is EncryptBlock on fixed-size values
func (c *BlockCipher) Encrypt(in Block) (Block, error) {
	var out Block
	err := c.EncryptBlock(out[:], in[:])
	return out, err
}

// EncryptBlock keys a fresh cipher with key and encrypts a single block
func EncryptBlock(key Key128, in Block) (Block, error) {
	c, err := NewBlockCipher(key[:])
	if err != nil {
		return Block{}, err
	}
	return c.Encrypt(in)
}
