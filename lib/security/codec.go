package security

import (
	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/crypto/aes"
	"github.com/go-zwave/go-s0/lib/crypto/cbcmac"
	"github.com/go-zwave/go-s0/lib/transport/serial"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// NodeID identifies a node on the Z-Wave network
type NodeID = serial.NodeID

// KeyProvider supplies the key material a Context and the codec work with.
// *crypto.KeyMaterial implements it.
type KeyProvider interface {
	EncryptionKey() aes.Key128
	AuthenticationKey() aes.Key128
	NetworkKey() crypto.NetworkKey
}

var _ KeyProvider = (*crypto.KeyMaterial)(nil)

// Encapsulated payload layout:
//
//	[0x98][cmd][8 random][ciphertext...][nonce id][8 tag]
const (
	offsetClass   = 0
	offsetCommand = 1
	offsetRandom  = 2
	randomSize    = 8
	offsetCipher  = offsetRandom + randomSize
	nonceIDSize   = 1

	// MinEncapsulatedLen is the smallest encapsulated payload Open accepts
	MinEncapsulatedLen = offsetCipher + nonceIDSize + cbcmac.TagSize

	// MinCiphertextLen covers the sequence byte plus a class and command
	MinCiphertextLen = 3

	// MaxPlaintextLen is the largest plaintext that fits one SendData frame
	MaxPlaintextLen = serial.MaxDataLen - 4 - MinEncapsulatedLen - 1
)

const (
	sequenceUnfragmented byte = 0x00
	sequenceFlag         byte = 0x10
)

// Header carries the addressing of a sealed frame
type Header struct {
	Source      NodeID
	Destination NodeID
	TxOptions   byte
	CallbackID  byte

	// RequestNonce asks the receiver to answer with a fresh nonce
	RequestNonce bool
}

// Encapsulation is an encapsulated payload split into its fields.
// Ciphertext aliases the parsed buffer.
type Encapsulation struct {
	Command      byte
	SenderRandom [randomSize]byte
	Ciphertext   []byte
	NonceID      byte
	Tag          cbcmac.Tag
}

// ParseEncapsulation splits an encapsulated payload without decrypting it
func ParseEncapsulation(payload []byte) (*Encapsulation, error) {
	if len(payload) < MinEncapsulatedLen {
		return nil, oops.Wrapf(ErrFrameTooShort, "%d bytes, need %d", len(payload), MinEncapsulatedLen)
	}
	if commandclass.ID(payload[offsetClass]) != commandclass.Security {
		return nil, oops.Wrapf(ErrFrameMalformed, "command class 0x%02x", payload[offsetClass])
	}
	cmd := payload[offsetCommand]
	if cmd != CommandMessageEncap && cmd != CommandMessageEncapNonceGet {
		return nil, oops.Wrapf(ErrFrameMalformed, "command 0x%02x is not an encapsulation", cmd)
	}
	ctLen := len(payload) - MinEncapsulatedLen
	if ctLen < MinCiphertextLen {
		return nil, oops.Wrapf(ErrFrameMalformed, "ciphertext of %d bytes", ctLen)
	}

	e := &Encapsulation{
		Command:    cmd,
		Ciphertext: payload[offsetCipher : offsetCipher+ctLen],
		NonceID:    payload[offsetCipher+ctLen],
	}
	copy(e.SenderRandom[:], payload[offsetRandom:offsetCipher])
	copy(e.Tag[:], payload[offsetCipher+ctLen+nonceIDSize:])
	return e, nil
}

// Seal encrypts and authenticates plaintext and returns the complete serial
// SendData frame addressed to hdr.Destination.
//
// random is the sender half of the IV and peerNonce the receiver half. The
// nonce id byte written to the frame is peerNonce[0].
func Seal(keys KeyProvider, hdr Header, random [8]byte, peerNonce Nonce, plaintext []byte) ([]byte, error) {
	if keys == nil {
		return nil, cipherFailure(aes.ErrCipherNotKeyed)
	}
	if len(plaintext) < MinCiphertextLen-1 {
		return nil, oops.Wrapf(ErrPlaintextTooShort, "%d bytes", len(plaintext))
	}
	if len(plaintext) > MaxPlaintextLen {
		return nil, oops.Wrapf(ErrPlaintextTooLong, "%d bytes, limit %d", len(plaintext), MaxPlaintextLen)
	}

	framed := make([]byte, 0, len(plaintext)+1)
	framed = append(framed, sequenceUnfragmented)
	framed = append(framed, plaintext...)

	ofb := &aes.OFBKey{Key: keys.EncryptionKey(), IV: buildIV(random, peerNonce)}
	encrypter, err := ofb.NewEncrypter()
	if err != nil {
		return nil, cipherFailure(err)
	}
	ciphertext, err := encrypter.Encrypt(framed)
	if err != nil {
		return nil, cipherFailure(err)
	}

	cmd := CommandMessageEncap
	if hdr.RequestNonce {
		cmd = CommandMessageEncapNonceGet
	}
	tag, err := cbcmac.Compute(
		keys.AuthenticationKey(),
		macInput(cmd, hdr.Source, hdr.Destination, ciphertext),
		buildIV(random, peerNonce),
	)
	if err != nil {
		return nil, cipherFailure(err)
	}

	payload := make([]byte, 0, MinEncapsulatedLen+len(ciphertext))
	payload = append(payload, byte(commandclass.Security), cmd)
	payload = append(payload, random[:]...)
	payload = append(payload, ciphertext...)
	payload = append(payload, peerNonce.ID())
	payload = append(payload, tag[:]...)

	sd := serial.SendData{
		Destination: hdr.Destination,
		Payload:     payload,
		TxOptions:   hdr.TxOptions,
		CallbackID:  hdr.CallbackID,
	}
	frame, err := sd.MarshalBinary()
	if err != nil {
		return nil, oops.Wrapf(err, "failed to frame encapsulated payload")
	}

	log.WithFields(logger.Fields{
		"at":          "security.Seal",
		"destination": hdr.Destination,
		"nonce_id":    peerNonce.ID(),
		"length":      len(plaintext),
	}).Debug("sealed payload")
	return frame, nil
}

// Open authenticates and decrypts an encapsulated payload sent by source to
// destination. localNonce must be the nonce this side issued to source and
// that the payload references.
//
// No plaintext is returned alongside an error.
func Open(keys KeyProvider, source, destination NodeID, payload []byte, localNonce Nonce) ([]byte, error) {
	enc, err := ParseEncapsulation(payload)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "security.Open",
			"reason": "malformed",
			"source": source,
			"length": len(payload),
		}).WithError(err).Warn("dropping encapsulated frame")
		return nil, err
	}
	if keys == nil {
		return nil, cipherFailure(aes.ErrCipherNotKeyed)
	}

	ofb := &aes.OFBKey{Key: keys.EncryptionKey(), IV: buildIV(enc.SenderRandom, localNonce)}
	decrypter, err := ofb.NewDecrypter()
	if err != nil {
		return nil, cipherFailure(err)
	}
	framed, err := decrypter.Decrypt(enc.Ciphertext)
	if err != nil {
		return nil, cipherFailure(err)
	}

	ok, err := cbcmac.Verify(
		keys.AuthenticationKey(),
		macInput(enc.Command, source, destination, enc.Ciphertext),
		buildIV(enc.SenderRandom, localNonce),
		enc.Tag[:],
	)
	if err != nil {
		clear(framed)
		return nil, cipherFailure(err)
	}
	if !ok {
		clear(framed)
		log.WithFields(logger.Fields{
			"at":       "security.Open",
			"reason":   "mac_mismatch",
			"source":   source,
			"nonce_id": enc.NonceID,
		}).Warn("dropping encapsulated frame")
		return nil, ErrMacMismatch
	}

	if framed[0]&sequenceFlag != 0 {
		clear(framed)
		return nil, oops.Wrapf(ErrFrameMalformed, "sequenced payloads are not supported (0x%02x)", framed[0])
	}
	return framed[1:], nil
}

// buildIV assembles the 16-byte IV as the sender random followed by the
// receiver nonce
func buildIV(random [randomSize]byte, nonce Nonce) aes.Block {
	var iv aes.Block
	copy(iv[:randomSize], random[:])
	copy(iv[randomSize:], nonce[:])
	return iv
}

// macInput lays out the authenticated data:
//
//	[cmd][source][destination][ciphertext length][ciphertext...]
func macInput(cmd byte, source, destination NodeID, ciphertext []byte) []byte {
	buf := make([]byte, 0, 4+len(ciphertext))
	buf = append(buf, cmd, byte(source), byte(destination), byte(len(ciphertext)))
	return append(buf, ciphertext...)
}
