package security

import (
	"sync"
	"time"

	"github.com/go-zwave/go-s0/lib/common/commandclass"
)

// PeerSecurityState is a snapshot of what this node knows about a peer's
// security
type PeerSecurityState struct {
	Node                     NodeID
	State                    HandshakeState
	SchemeAgreed             bool
	Secured                  bool
	SecuredCommandClasses    commandclass.Set
	ControlledCommandClasses commandclass.Set
}

// pendingPayload waits for a peer nonce before it can be sealed
type pendingPayload struct {
	payload []byte
	keys    KeyProvider
}

// peer is the Context's record of one node. mu serializes every seal, open
// and handshake step for the node.
type peer struct {
	mu         sync.Mutex
	id         NodeID
	handshake  *Handshake
	pending    []pendingPayload
	lastRandom [randomSize]byte

	// nonceRequested is when the outstanding NonceGet went out, zero if none
	nonceRequested time.Time
}

// peerSender adapts a Context to a HandshakeSender for one peer.
// The peer's mutex is held by the caller.
type peerSender struct {
	ctx  *Context
	peer *peer
}

func (s peerSender) SendPlain(payload []byte) error {
	return s.ctx.sendPlain(s.peer.id, payload)
}

func (s peerSender) SendSecure(payload []byte, keys KeyProvider) error {
	return s.ctx.sendSecureLocked(s.peer, payload, keys)
}
