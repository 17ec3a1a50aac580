package security

import (
	"bytes"
	stdaes "crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"testing"

	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/transport/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	controllerID NodeID = 0x01
	deviceID     NodeID = 0x07
)

func testKeyMaterial(t *testing.T) *crypto.KeyMaterial {
	t.Helper()
	nk, err := crypto.ParseNetworkKey("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)
	m, err := crypto.DeriveKeyMaterial(nk)
	require.NoError(t, err)
	return m
}

var (
	testRandom = [8]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	testNonce  = Nonce{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8}
)

func testHeader() Header {
	return Header{Source: controllerID, Destination: deviceID, TxOptions: 0x25, CallbackID: 0x0A}
}

// encapsulatedPayload strips the serial framing from a sealed frame
func encapsulatedPayload(t *testing.T, frame []byte) []byte {
	t.Helper()
	var sd serial.SendData
	require.NoError(t, sd.UnmarshalBinary(frame))
	return sd.Payload
}

func TestSealOpenRoundTrip(t *testing.T) {
	keys := testKeyMaterial(t)

	for _, requestNonce := range []bool{false, true} {
		hdr := testHeader()
		hdr.RequestNonce = requestNonce
		for n := 2; n <= 64; n++ {
			plaintext := make([]byte, n)
			for i := range plaintext {
				plaintext[i] = byte(i*7 + n)
			}

			frame, err := Seal(keys, hdr, testRandom, testNonce, plaintext)
			require.NoError(t, err)

			got, err := Open(keys, controllerID, deviceID, encapsulatedPayload(t, frame), testNonce)
			require.NoError(t, err, "length %d", n)
			if !bytes.Equal(plaintext, got) {
				t.Fatalf("round trip mismatch at length %d\nGot:  %x\nWant: %x", n, got, plaintext)
			}
		}
	}
}

func TestSealFrameLayout(t *testing.T) {
	keys := testKeyMaterial(t)
	plaintext := []byte{0x62, 0x01, 0xFF}

	frame, err := Seal(keys, testHeader(), testRandom, testNonce, plaintext)
	require.NoError(t, err)

	ctLen := len(plaintext) + 1
	payloadLen := ctLen + MinEncapsulatedLen
	require.Len(t, frame, 6+payloadLen+3)

	assert.Equal(t, byte(serial.SOF), frame[0])
	assert.Equal(t, byte(len(frame)-2), frame[1], "length counts every byte after itself")
	assert.Equal(t, byte(serial.TypeRequest), frame[2])
	assert.Equal(t, byte(serial.FuncSendData), frame[3])
	assert.Equal(t, byte(deviceID), frame[4])
	assert.Equal(t, byte(payloadLen), frame[5])
	assert.Equal(t, byte(0x98), frame[6])
	assert.Equal(t, CommandMessageEncap, frame[7])
	assert.Equal(t, testRandom[:], frame[8:16])
	assert.Equal(t, testNonce.ID(), frame[16+ctLen])
	assert.Equal(t, byte(0x25), frame[len(frame)-3])
	assert.Equal(t, byte(0x0A), frame[len(frame)-2])
	assert.Equal(t, serial.Checksum(frame[1:len(frame)-1]), frame[len(frame)-1])
}

func TestSealRequestNonceCommand(t *testing.T) {
	keys := testKeyMaterial(t)
	hdr := testHeader()
	hdr.RequestNonce = true

	frame, err := Seal(keys, hdr, testRandom, testNonce, []byte{0x20, 0x02})
	require.NoError(t, err)
	assert.Equal(t, CommandMessageEncapNonceGet, encapsulatedPayload(t, frame)[1])
}

// The composition is checked against an independent build from the standard
// library OFB and CBC modes.
func TestSealMatchesReferenceConstruction(t *testing.T) {
	keys := testKeyMaterial(t)
	plaintext := []byte("\x25\x01\xff0123456789abcdefXYZ")

	frame, err := Seal(keys, testHeader(), testRandom, testNonce, plaintext)
	require.NoError(t, err)
	payload := encapsulatedPayload(t, frame)

	iv := append(append([]byte{}, testRandom[:]...), testNonce[:]...)

	encKey := keys.EncryptionKey()
	encBlock, err := stdaes.NewCipher(encKey[:])
	require.NoError(t, err)
	wantCT := make([]byte, len(plaintext)+1)
	//nolint:staticcheck // reference keystream
	cipher.NewOFB(encBlock, iv).XORKeyStream(wantCT, append([]byte{0x00}, plaintext...))

	authKey := keys.AuthenticationKey()
	authBlock, err := stdaes.NewCipher(authKey[:])
	require.NoError(t, err)
	macBuf := append([]byte{CommandMessageEncap, byte(controllerID), byte(deviceID), byte(len(wantCT))}, wantCT...)
	if rem := len(macBuf) % 16; rem != 0 {
		macBuf = append(macBuf, make([]byte, 16-rem)...)
	}
	seed := make([]byte, 16)
	authBlock.Encrypt(seed, iv)
	chain := make([]byte, len(macBuf))
	cipher.NewCBCEncrypter(authBlock, seed).CryptBlocks(chain, macBuf)
	wantTag := chain[len(chain)-16 : len(chain)-8]

	ct := payload[offsetCipher : len(payload)-9]
	tag := payload[len(payload)-8:]
	assert.Equal(t, hex.EncodeToString(wantCT), hex.EncodeToString(ct))
	assert.Equal(t, hex.EncodeToString(wantTag), hex.EncodeToString(tag))
}

func TestOpenRejectsTampering(t *testing.T) {
	keys := testKeyMaterial(t)
	frame, err := Seal(keys, testHeader(), testRandom, testNonce, []byte{0x62, 0x01, 0x00, 0x10})
	require.NoError(t, err)
	payload := encapsulatedPayload(t, frame)

	// every byte after the command, nonce id excepted, is covered by the tag
	nonceIDAt := len(payload) - 9
	for i := offsetRandom; i < len(payload); i++ {
		if i == nonceIDAt {
			continue
		}
		for _, bit := range []byte{0x01, 0x80} {
			tampered := bytes.Clone(payload)
			tampered[i] ^= bit

			got, err := Open(keys, controllerID, deviceID, tampered, testNonce)
			assert.ErrorIs(t, err, ErrMacMismatch, "byte %d bit %02x", i, bit)
			assert.Nil(t, got)
		}
	}
}

func TestOpenRejectsWrongContext(t *testing.T) {
	keys := testKeyMaterial(t)
	frame, err := Seal(keys, testHeader(), testRandom, testNonce, []byte{0x62, 0x01, 0x00})
	require.NoError(t, err)
	payload := encapsulatedPayload(t, frame)

	otherNonce := testNonce
	otherNonce[7] ^= 0xFF
	bootstrap, err := crypto.BootstrapKeyMaterial()
	require.NoError(t, err)

	flippedCmd := bytes.Clone(payload)
	flippedCmd[offsetCommand] = CommandMessageEncapNonceGet

	tests := []struct {
		name        string
		keys        KeyProvider
		source      NodeID
		destination NodeID
		payload     []byte
		nonce       Nonce
	}{
		{"wrong source", keys, 0x02, deviceID, payload, testNonce},
		{"wrong destination", keys, controllerID, 0x08, payload, testNonce},
		{"wrong nonce", keys, controllerID, deviceID, payload, otherNonce},
		{"wrong keys", bootstrap, controllerID, deviceID, payload, testNonce},
		{"command changed", keys, controllerID, deviceID, flippedCmd, testNonce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Open(tt.keys, tt.source, tt.destination, tt.payload, tt.nonce)
			assert.ErrorIs(t, err, ErrMacMismatch)
			assert.Nil(t, got)
		})
	}
}

func TestOpenRejectsShortInputWithoutCipher(t *testing.T) {
	payload := make([]byte, MinEncapsulatedLen-1)
	payload[0] = 0x98
	payload[1] = CommandMessageEncap

	// nil keys would fail as a cipher error if the length were not checked first
	for n := 0; n < MinEncapsulatedLen; n++ {
		got, err := Open(nil, controllerID, deviceID, payload[:n], testNonce)
		assert.ErrorIs(t, err, ErrFrameTooShort, "length %d", n)
		assert.Nil(t, got)
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	keys := testKeyMaterial(t)
	for ctLen := 0; ctLen < MinCiphertextLen; ctLen++ {
		payload := make([]byte, MinEncapsulatedLen+ctLen)
		payload[0] = 0x98
		payload[1] = CommandMessageEncap

		got, err := Open(keys, controllerID, deviceID, payload, testNonce)
		assert.ErrorIs(t, err, ErrFrameMalformed, "ciphertext length %d", ctLen)
		assert.Nil(t, got)
	}
}

func TestOpenRejectsForeignCommands(t *testing.T) {
	keys := testKeyMaterial(t)
	payload := make([]byte, MinEncapsulatedLen+4)
	payload[0] = 0x98
	payload[1] = CommandNonceReport

	_, err := Open(keys, controllerID, deviceID, payload, testNonce)
	assert.ErrorIs(t, err, ErrFrameMalformed)

	payload[0] = 0x20
	payload[1] = CommandMessageEncap
	_, err = Open(keys, controllerID, deviceID, payload, testNonce)
	assert.ErrorIs(t, err, ErrFrameMalformed)
}

func TestSealRejectsInvalidInput(t *testing.T) {
	keys := testKeyMaterial(t)

	_, err := Seal(keys, testHeader(), testRandom, testNonce, nil)
	assert.ErrorIs(t, err, ErrPlaintextTooShort)
	_, err = Seal(keys, testHeader(), testRandom, testNonce, []byte{0x20})
	assert.ErrorIs(t, err, ErrPlaintextTooShort)

	_, err = Seal(keys, testHeader(), testRandom, testNonce, make([]byte, MaxPlaintextLen+1))
	assert.ErrorIs(t, err, ErrPlaintextTooLong)

	frame, err := Seal(keys, testHeader(), testRandom, testNonce, make([]byte, MaxPlaintextLen))
	require.NoError(t, err)
	assert.NotEmpty(t, frame)

	_, err = Seal(nil, testHeader(), testRandom, testNonce, []byte{0x20, 0x01})
	assert.ErrorIs(t, err, ErrCipherFailure)
}

func TestSealDoesNotMutatePlaintext(t *testing.T) {
	keys := testKeyMaterial(t)
	plaintext := []byte{0x62, 0x01, 0xFF}
	before := bytes.Clone(plaintext)

	first, err := Seal(keys, testHeader(), testRandom, testNonce, plaintext)
	require.NoError(t, err)
	second, err := Seal(keys, testHeader(), testRandom, testNonce, plaintext)
	require.NoError(t, err)

	assert.Equal(t, before, plaintext)
	assert.Equal(t, first, second)
}

func TestParseEncapsulation(t *testing.T) {
	keys := testKeyMaterial(t)
	frame, err := Seal(keys, testHeader(), testRandom, testNonce, []byte{0x20, 0x01, 0x63})
	require.NoError(t, err)

	enc, err := ParseEncapsulation(encapsulatedPayload(t, frame))
	require.NoError(t, err)
	assert.Equal(t, CommandMessageEncap, enc.Command)
	assert.Equal(t, testRandom, enc.SenderRandom)
	assert.Equal(t, testNonce.ID(), enc.NonceID)
	assert.Len(t, enc.Ciphertext, 4)
}

func TestBuildIVKeepsHalvesInOrder(t *testing.T) {
	iv := buildIV(testRandom, testNonce)
	assert.Equal(t, testRandom[:], iv[:8])
	assert.Equal(t, testNonce[:], iv[8:])
}

func TestMacInputLayout(t *testing.T) {
	got := macInput(CommandMessageEncap, 0x01, 0x07, []byte{0xAA, 0xBB, 0xCC})
	assert.Equal(t, []byte{0x81, 0x01, 0x07, 0x03, 0xAA, 0xBB, 0xCC}, got)
}
