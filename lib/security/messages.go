package security

import (
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/samber/oops"
)

// Security command class commands
const (
	CommandSupportedGet         byte = 0x02
	CommandSupportedReport      byte = 0x03
	CommandSchemeGet            byte = 0x04
	CommandSchemeReport         byte = 0x05
	CommandNetworkKeySet        byte = 0x06
	CommandNetworkKeyVerify     byte = 0x07
	CommandSchemeInherit        byte = 0x08
	CommandNonceGet             byte = 0x40
	CommandNonceReport          byte = 0x80
	CommandMessageEncap         byte = 0x81
	CommandMessageEncapNonceGet byte = 0xC1
)

// SchemeZero is the only scheme S0 offers; a report of any other value means
// the peer shares no scheme with us.
const SchemeZero byte = 0x00

var commandNames = map[byte]string{
	CommandSupportedGet:         "SupportedGet",
	CommandSupportedReport:      "SupportedReport",
	CommandSchemeGet:            "SchemeGet",
	CommandSchemeReport:         "SchemeReport",
	CommandNetworkKeySet:        "NetworkKeySet",
	CommandNetworkKeyVerify:     "NetworkKeyVerify",
	CommandSchemeInherit:        "SchemeInherit",
	CommandNonceGet:             "NonceGet",
	CommandNonceReport:          "NonceReport",
	CommandMessageEncap:         "MessageEncap",
	CommandMessageEncapNonceGet: "MessageEncapNonceGet",
}

// CommandName returns a printable name for a security command
func CommandName(cmd byte) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return "Unknown"
}

func securityCommand(cmd byte, params ...byte) []byte {
	out := make([]byte, 0, 2+len(params))
	out = append(out, byte(commandclass.Security), cmd)
	return append(out, params...)
}

// schemeGet asks the peer which schemes it supports
func schemeGet() []byte {
	return securityCommand(CommandSchemeGet, SchemeZero)
}

func networkKeySet(key crypto.NetworkKey) []byte {
	return securityCommand(CommandNetworkKeySet, key[:]...)
}

func supportedGet() []byte {
	return securityCommand(CommandSupportedGet)
}

func nonceGet() []byte {
	return securityCommand(CommandNonceGet)
}

func nonceReport(n Nonce) []byte {
	return securityCommand(CommandNonceReport, n[:]...)
}

// SupportedReport is the parsed body of a SupportedReport command
type SupportedReport struct {
	ReportsToFollow byte
	Supported       []commandclass.ID
	Controlled      []commandclass.ID
}

func parseSupportedReport(payload []byte) (*SupportedReport, error) {
	if len(payload) < 3 {
		return nil, oops.Wrapf(ErrHandshakeViolation, "SupportedReport of %d bytes", len(payload))
	}
	supported, controlled := commandclass.SplitAtMark(payload[3:])
	return &SupportedReport{
		ReportsToFollow: payload[2],
		Supported:       supported,
		Controlled:      controlled,
	}, nil
}

func parseNonceReport(payload []byte) (Nonce, error) {
	var n Nonce
	if len(payload) < 2+NonceSize {
		return n, oops.Wrapf(ErrFrameMalformed, "NonceReport of %d bytes", len(payload))
	}
	copy(n[:], payload[2:2+NonceSize])
	return n, nil
}
