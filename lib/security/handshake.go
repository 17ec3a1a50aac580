package security

import (
	"strings"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/samber/oops"
)

// HandshakeState is the position of a peer in the key exchange
type HandshakeState int

const (
	StateUnsecured HandshakeState = iota
	StateSchemeRequested
	StateSchemeAgreed
	StateKeyVerifying
	StateSupportedRequested
	StateSecured
	// StateUnsecuredFallback is terminal: the peer shares no scheme and is
	// only ever addressed in plaintext
	StateUnsecuredFallback
)

var stateNames = [...]string{
	StateUnsecured:          "unsecured",
	StateSchemeRequested:    "scheme_requested",
	StateSchemeAgreed:       "scheme_agreed",
	StateKeyVerifying:       "key_verifying",
	StateSupportedRequested: "supported_requested",
	StateSecured:            "secured",
	StateUnsecuredFallback:  "unsecured_fallback",
}

func (s HandshakeState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ParseHandshakeState is the inverse of HandshakeState.String
func ParseHandshakeState(s string) (HandshakeState, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range stateNames {
		if name == s {
			return HandshakeState(i), nil
		}
	}
	return StateUnsecured, oops.Errorf("unknown handshake state %q", s)
}

// terminal states survive a restart; every other state belongs to an
// exchange that cannot be resumed
func (s HandshakeState) terminal() bool {
	return s == StateUnsecured || s == StateSecured || s == StateUnsecuredFallback
}

// Role is the part this node plays in the key exchange
type Role int

const (
	// RoleInclusionController includes new nodes and hands out the network key
	RoleInclusionController Role = iota
	// RoleSecondary never starts a key exchange
	RoleSecondary
)

// HandshakeSender carries the handshake's outbound commands.
// SendSecure encrypts payload with keys before it goes out.
type HandshakeSender interface {
	SendPlain(payload []byte) error
	SendSecure(payload []byte, keys KeyProvider) error
}

// Handshake drives the S0 key exchange with a single peer.
//
// It is not safe for concurrent use; a Context serializes access per peer.
type Handshake struct {
	peer      NodeID
	role      Role
	network   KeyProvider
	bootstrap KeyProvider
	out       HandshakeSender

	state        HandshakeState
	schemeAgreed bool
	supported    commandclass.Set
	controlled   commandclass.Set
}

// NewHandshake returns a handshake in StateUnsecured. network supplies the
// key handed to the peer and bootstrap the temporary key that protects it.
func NewHandshake(peer NodeID, role Role, network, bootstrap KeyProvider, out HandshakeSender) *Handshake {
	return &Handshake{
		peer:       peer,
		role:       role,
		network:    network,
		bootstrap:  bootstrap,
		out:        out,
		supported:  make(commandclass.Set),
		controlled: make(commandclass.Set),
	}
}

func (h *Handshake) State() HandshakeState {
	return h.state
}

// Secured reports whether the exchange completed
func (h *Handshake) Secured() bool {
	return h.state == StateSecured
}

// Start asks the peer for its security schemes. Only the inclusion
// controller starts an exchange, and only with an unsecured peer.
func (h *Handshake) Start() error {
	if h.role != RoleInclusionController {
		return oops.Wrapf(ErrHandshakeViolation, "only the inclusion controller starts a key exchange")
	}
	if h.state != StateUnsecured {
		return oops.Wrapf(ErrHandshakeViolation, "key exchange already in state %s", h.state)
	}
	if err := h.out.SendPlain(schemeGet()); err != nil {
		return oops.Wrapf(err, "failed to send SchemeGet to node %d", h.peer)
	}
	h.transition(StateSchemeRequested)
	return nil
}

// HandleCommand applies a Security command class payload received from the
// peer. encrypted tells whether it arrived inside a verified encapsulation.
//
// A rejected command leaves the state unchanged.
func (h *Handshake) HandleCommand(payload []byte, encrypted bool) error {
	if len(payload) < 2 || commandclass.ID(payload[0]) != commandclass.Security {
		return oops.Wrapf(ErrFrameMalformed, "not a security command")
	}

	cmd := payload[1]
	switch cmd {
	case CommandSchemeReport:
		return h.handleSchemeReport(payload)
	case CommandNetworkKeyVerify:
		return h.handleNetworkKeyVerify(encrypted)
	case CommandSupportedReport:
		return h.handleSupportedReport(payload, encrypted)
	case CommandNetworkKeySet, CommandSchemeInherit:
		log.WithFields(h.fields("(*Handshake).HandleCommand", logger.Fields{
			"command": CommandName(cmd),
			"reason":  "included_node_command",
		})).Warn("ignoring command meant for a node being included")
		return nil
	default:
		return h.violation(cmd, "unexpected command")
	}
}

func (h *Handshake) handleSchemeReport(payload []byte) error {
	switch h.state {
	case StateSchemeRequested:
	case StateUnsecured:
		return h.violation(CommandSchemeReport, "no SchemeGet outstanding")
	default:
		log.WithFields(h.fields("(*Handshake).handleSchemeReport", nil)).Debug("ignoring duplicate SchemeReport")
		return nil
	}
	if len(payload) < 3 {
		return h.violation(CommandSchemeReport, "missing scheme byte")
	}

	if scheme := payload[2]; scheme != SchemeZero {
		h.transition(StateUnsecuredFallback)
		return oops.Wrapf(ErrNoCommonScheme, "node %d reported scheme 0x%02x", h.peer, scheme)
	}

	h.schemeAgreed = true
	h.transition(StateSchemeAgreed)
	if err := h.out.SendSecure(networkKeySet(h.network.NetworkKey()), h.bootstrap); err != nil {
		h.schemeAgreed = false
		h.transition(StateSchemeRequested)
		return oops.Wrapf(err, "failed to send NetworkKeySet to node %d", h.peer)
	}
	h.transition(StateKeyVerifying)
	return nil
}

func (h *Handshake) handleNetworkKeyVerify(encrypted bool) error {
	if h.state != StateKeyVerifying {
		return h.violation(CommandNetworkKeyVerify, "no NetworkKeySet outstanding")
	}
	if !encrypted {
		return h.violation(CommandNetworkKeyVerify, "arrived in plaintext")
	}
	if err := h.out.SendSecure(supportedGet(), h.network); err != nil {
		return oops.Wrapf(err, "failed to send SupportedGet to node %d", h.peer)
	}
	h.supported = make(commandclass.Set)
	h.controlled = make(commandclass.Set)
	h.transition(StateSupportedRequested)
	return nil
}

func (h *Handshake) handleSupportedReport(payload []byte, encrypted bool) error {
	if h.state != StateSupportedRequested {
		return h.violation(CommandSupportedReport, "no SupportedGet outstanding")
	}
	if !encrypted {
		return h.violation(CommandSupportedReport, "arrived in plaintext")
	}
	report, err := parseSupportedReport(payload)
	if err != nil {
		return err
	}

	h.supported.Insert(report.Supported...)
	h.controlled.Insert(report.Controlled...)
	if report.ReportsToFollow > 0 {
		log.WithFields(h.fields("(*Handshake).handleSupportedReport", logger.Fields{
			"reports_to_follow": report.ReportsToFollow,
		})).Debug("waiting for further SupportedReport")
		return nil
	}

	h.transition(StateSecured)
	log.WithFields(h.fields("(*Handshake).handleSupportedReport", logger.Fields{
		"secured_classes": h.supported.String(),
	})).Info("node secured")
	return nil
}

// SecurityState returns a copy of the peer's security state
func (h *Handshake) SecurityState() PeerSecurityState {
	return PeerSecurityState{
		Node:                     h.peer,
		State:                    h.state,
		SchemeAgreed:             h.schemeAgreed,
		Secured:                  h.Secured(),
		SecuredCommandClasses:    h.supported.Clone(),
		ControlledCommandClasses: h.controlled.Clone(),
	}
}

// restore replaces the state with a persisted one. An exchange that was in
// flight restarts from StateUnsecured.
func (h *Handshake) restore(st PeerSecurityState) {
	h.supported = make(commandclass.Set)
	h.controlled = make(commandclass.Set)
	if !st.State.terminal() {
		h.state = StateUnsecured
		h.schemeAgreed = false
		return
	}
	h.state = st.State
	h.schemeAgreed = st.SchemeAgreed
	if st.State == StateSecured {
		h.supported.Insert(st.SecuredCommandClasses.Sorted()...)
		h.controlled.Insert(st.ControlledCommandClasses.Sorted()...)
	}
}

func (h *Handshake) transition(next HandshakeState) {
	log.WithFields(h.fields("(*Handshake).transition", logger.Fields{
		"next": next.String(),
	})).Debug("handshake transition")
	h.state = next
}

func (h *Handshake) violation(cmd byte, reason string) error {
	log.WithFields(h.fields("(*Handshake).HandleCommand", logger.Fields{
		"command": CommandName(cmd),
		"reason":  reason,
	})).Warn("handshake protocol violation")
	return oops.Wrapf(ErrHandshakeViolation, "%s from node %d in state %s: %s", CommandName(cmd), h.peer, h.state, reason)
}

func (h *Handshake) fields(at string, extra logger.Fields) logger.Fields {
	f := logger.Fields{
		"at":    at,
		"peer":  h.peer,
		"state": h.state.String(),
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}
