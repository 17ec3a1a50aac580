package security

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/transport/serial"
	"github.com/samber/oops"
)

// Transport delivers complete serial frames to the controller
type Transport interface {
	SendRawFrame(peer NodeID, frame []byte) error
	TransmitOptions() byte
}

// Options configures a Context
type Options struct {
	// NodeID is this node's id, authenticated as source and destination
	NodeID NodeID
	Role   Role
	Policy Policy

	// MaxPending bounds the payloads queued per peer while waiting for a
	// nonce. Zero means DefaultMaxPending.
	MaxPending int
	// NonceRequestTimeout is how long an unanswered NonceGet blocks sending
	// another one. Zero means DefaultNonceTTL.
	NonceRequestTimeout time.Duration
}

// DefaultMaxPending is the per-peer queue limit used when Options leaves it unset
const DefaultMaxPending = 16

// Context owns the security state of every peer this node talks to.
//
// Operations on different peers run in parallel; operations on one peer are
// serialized.
type Context struct {
	network   KeyProvider
	bootstrap KeyProvider
	transport Transport
	nonces    NonceSource
	opts      Options

	mu    sync.RWMutex
	peers map[NodeID]*peer

	callbackID atomic.Uint32

	now      func() time.Time
	randRead func([]byte) (int, error)
}

// NewContext builds a Context around the network key material. The
// bootstrap material used during inclusion is derived here.
func NewContext(network KeyProvider, transport Transport, nonces NonceSource, opts Options) (*Context, error) {
	if network == nil || transport == nil || nonces == nil {
		return nil, oops.Errorf("security context needs key material, a transport and a nonce source")
	}
	bootstrap, err := crypto.BootstrapKeyMaterial()
	if err != nil {
		return nil, cipherFailure(err)
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.NonceRequestTimeout <= 0 {
		opts.NonceRequestTimeout = DefaultNonceTTL
	}
	return &Context{
		network:   network,
		bootstrap: bootstrap,
		transport: transport,
		nonces:    nonces,
		opts:      opts,
		peers:     make(map[NodeID]*peer),
		now:       time.Now,
		randRead:  rand.Read,
	}, nil
}

// peer returns the record for id, creating it on first use
func (c *Context) peer(id NodeID) *peer {
	c.mu.RLock()
	p, ok := c.peers[id]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.peers[id]; ok {
		return p
	}
	p = &peer{id: id}
	p.handshake = NewHandshake(id, c.opts.Role, c.network, c.bootstrap, peerSender{ctx: c, peer: p})
	c.peers[id] = p
	return p
}

// StartHandshake begins the key exchange with a node that was just included
func (c *Context) StartHandshake(id NodeID) error {
	p := c.peer(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshake.Start()
}

// HandleSerialFrame decodes an ApplicationCommandHandler frame and passes its
// payload to HandleCommand. It returns the sending node with the application
// payload, if any.
func (c *Context) HandleSerialFrame(frame []byte) (NodeID, []byte, error) {
	var ac serial.ApplicationCommand
	if err := ac.UnmarshalBinary(frame); err != nil {
		return 0, nil, err
	}
	payload, err := c.HandleCommand(ac.Source, ac.Payload)
	return ac.Source, payload, err
}

// HandleCommand processes a command payload received from source.
//
// Security class commands are consumed and nil is returned for them. A
// verified encapsulation yields its decrypted payload unless that payload
// drives the key exchange. Payloads of any other class are returned as is.
func (c *Context) HandleCommand(source NodeID, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, oops.Wrapf(ErrFrameMalformed, "empty payload from node %d", source)
	}
	if commandclass.ID(payload[0]) != commandclass.Security {
		return payload, nil
	}
	if len(payload) < 2 {
		return nil, oops.Wrapf(ErrFrameMalformed, "security payload without command from node %d", source)
	}

	p := c.peer(source)
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd := payload[1]; cmd {
	case CommandNonceGet:
		return nil, c.sendNonceReport(p)
	case CommandNonceReport:
		n, err := parseNonceReport(payload)
		if err != nil {
			return nil, err
		}
		c.nonces.StorePeerNonce(source, n)
		return nil, c.flushPending(p)
	case CommandMessageEncap, CommandMessageEncapNonceGet:
		plaintext, err := c.open(p, payload)
		if err != nil {
			return nil, err
		}
		if cmd == CommandMessageEncapNonceGet {
			if err := c.sendNonceReport(p); err != nil {
				log.WithFields(logger.Fields{
					"at":     "(*Context).HandleCommand",
					"reason": "nonce_report_failed",
					"peer":   source,
				}).WithError(err).Warn("could not answer nonce request")
			}
		}
		if commandclass.ID(plaintext[0]) == commandclass.Security {
			return nil, p.handshake.HandleCommand(plaintext, true)
		}
		return plaintext, nil
	default:
		return nil, p.handshake.HandleCommand(payload, false)
	}
}

// open consumes the local nonce the encapsulation references and decrypts it
func (c *Context) open(p *peer, payload []byte) ([]byte, error) {
	enc, err := ParseEncapsulation(payload)
	if err != nil {
		return nil, err
	}
	local, err := c.nonces.ConsumeLocalNonce(p.id, enc.NonceID)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":       "(*Context).open",
			"reason":   "unknown_nonce",
			"peer":     p.id,
			"nonce_id": enc.NonceID,
		}).WithError(err).Warn("dropping encapsulated frame")
		return nil, err
	}
	return Open(c.network, p.id, c.opts.NodeID, payload, local)
}

// Send transmits an application payload to a peer, encrypting it when the
// policy or the peer's reported classes demand it. A payload that needs
// security is refused for a peer that never completed the key exchange.
func (c *Context) Send(id NodeID, payload []byte) error {
	if len(payload) == 0 {
		return oops.Wrapf(ErrFrameMalformed, "empty payload for node %d", id)
	}
	p := c.peer(id)
	p.mu.Lock()
	defer p.mu.Unlock()

	cc := commandclass.ID(payload[0])
	secured := p.handshake.Secured()
	peerClasses := p.handshake.supported
	needs := c.opts.Policy.Requires(cc, peerClasses) || (secured && peerClasses.Contain(cc))

	switch {
	case needs && !secured:
		log.WithFields(logger.Fields{
			"at":            "(*Context).Send",
			"reason":        "peer_not_secured",
			"peer":          id,
			"command_class": cc.String(),
		}).Warn("refusing to send command class in plaintext")
		return oops.Wrapf(ErrSecurityRequired, "%s to node %d", cc, id)
	case needs:
		return c.sendSecureLocked(p, payload, c.network)
	default:
		return c.sendPlain(id, payload)
	}
}

// SendSecure encrypts payload for a secured peer regardless of policy
func (c *Context) SendSecure(id NodeID, payload []byte) error {
	p := c.peer(id)
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.handshake.Secured() {
		return oops.Wrapf(ErrSecurityRequired, "node %d is %s", id, p.handshake.State())
	}
	return c.sendSecureLocked(p, payload, c.network)
}

// sendSecureLocked seals payload with the peer's nonce, or queues it and asks
// for a nonce when none is held. The peer's mutex must be held.
func (c *Context) sendSecureLocked(p *peer, payload []byte, keys KeyProvider) error {
	if len(payload) < MinCiphertextLen-1 {
		return oops.Wrapf(ErrPlaintextTooShort, "%d bytes", len(payload))
	}
	n, err := c.nonces.ConsumePeerNonce(p.id)
	switch {
	case err == nil:
		return c.seal(p, payload, keys, n, false)
	case errors.Is(err, ErrNoPeerNonce), errors.Is(err, ErrNonceExpired):
	default:
		return err
	}

	if len(p.pending) >= c.opts.MaxPending {
		log.WithFields(logger.Fields{
			"at":      "(*Context).sendSecureLocked",
			"reason":  "pending_queue_full",
			"peer":    p.id,
			"pending": len(p.pending),
		}).Warn("refusing to queue payload")
		if err := c.requestNonce(p); err != nil {
			return err
		}
		return oops.Wrapf(ErrPendingQueueFull, "%d payloads for node %d", len(p.pending), p.id)
	}
	p.pending = append(p.pending, pendingPayload{payload: bytes.Clone(payload), keys: keys})

	if err := c.requestNonce(p); err != nil {
		p.pending = p.pending[:len(p.pending)-1]
		return err
	}
	return nil
}

// requestNonce sends a NonceGet to p unless one is still outstanding
func (c *Context) requestNonce(p *peer) error {
	if c.nonceOutstanding(p) {
		return nil
	}
	if err := c.sendPlain(p.id, nonceGet()); err != nil {
		p.nonceRequested = time.Time{}
		return err
	}
	p.nonceRequested = c.now()
	return nil
}

// nonceOutstanding reports whether a nonce request to p is still awaiting an
// answer. Requests older than NonceRequestTimeout count as lost.
func (c *Context) nonceOutstanding(p *peer) bool {
	return !p.nonceRequested.IsZero() && c.now().Sub(p.nonceRequested) < c.opts.NonceRequestTimeout
}

// flushPending sends the oldest queued payload with the nonce just received.
// If more remain, the frame asks the peer for the next nonce. A failed seal
// drops the whole queue so the next send starts over with a fresh NonceGet.
func (c *Context) flushPending(p *peer) error {
	p.nonceRequested = time.Time{}
	if len(p.pending) == 0 {
		return nil
	}
	n, err := c.nonces.ConsumePeerNonce(p.id)
	if err != nil {
		return err
	}
	next := p.pending[0]
	p.pending = slices.Delete(p.pending, 0, 1)

	more := len(p.pending) > 0
	if err := c.seal(p, next.payload, next.keys, n, more); err != nil {
		log.WithFields(logger.Fields{
			"at":      "(*Context).flushPending",
			"reason":  "seal_failed",
			"peer":    p.id,
			"dropped": len(p.pending) + 1,
		}).WithError(err).Warn("dropping queued payloads")
		p.pending = nil
		return err
	}
	if more {
		p.nonceRequested = c.now()
	}
	return nil
}

func (c *Context) seal(p *peer, payload []byte, keys KeyProvider, peerNonce Nonce, requestNonce bool) error {
	random, err := c.senderRandom(p)
	if err != nil {
		return err
	}
	frame, err := Seal(keys, Header{
		Source:       c.opts.NodeID,
		Destination:  p.id,
		TxOptions:    c.transport.TransmitOptions(),
		CallbackID:   c.nextCallbackID(),
		RequestNonce: requestNonce,
	}, random, peerNonce, payload)
	if err != nil {
		return err
	}
	return c.transport.SendRawFrame(p.id, frame)
}

// senderRandom draws the sender half of the IV, never repeating the previous
// value sent to the same peer
func (c *Context) senderRandom(p *peer) ([randomSize]byte, error) {
	var r [randomSize]byte
	for {
		if _, err := c.randRead(r[:]); err != nil {
			return r, oops.Wrapf(err, "failed to generate IV")
		}
		if r != p.lastRandom {
			p.lastRandom = r
			return r, nil
		}
	}
}

func (c *Context) sendNonceReport(p *peer) error {
	n, err := c.nonces.IssueLocalNonce(p.id)
	if err != nil {
		return err
	}
	return c.sendPlain(p.id, nonceReport(n))
}

func (c *Context) sendPlain(id NodeID, payload []byte) error {
	sd := serial.SendData{
		Destination: id,
		Payload:     payload,
		TxOptions:   c.transport.TransmitOptions(),
		CallbackID:  c.nextCallbackID(),
	}
	frame, err := sd.MarshalBinary()
	if err != nil {
		return err
	}
	return c.transport.SendRawFrame(id, frame)
}

// nextCallbackID cycles through 1..255; zero asks the controller for no
// callback
func (c *Context) nextCallbackID() byte {
	return byte((c.callbackID.Add(1)-1)%0xFF + 1)
}

// PeerState returns a snapshot of a peer's security state
func (c *Context) PeerState(id NodeID) PeerSecurityState {
	p := c.peer(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handshake.SecurityState()
}

// Snapshot returns the state of every known peer ordered by node id
func (c *Context) Snapshot() []PeerSecurityState {
	c.mu.RLock()
	ids := make([]NodeID, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	slices.Sort(ids)

	out := make([]PeerSecurityState, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.PeerState(id))
	}
	return out
}

// Restore loads persisted peer states. Exchanges that were in flight are
// reset to unsecured.
func (c *Context) Restore(states []PeerSecurityState) {
	for _, st := range states {
		p := c.peer(st.Node)
		p.mu.Lock()
		p.handshake.restore(st)
		p.pending = nil
		p.nonceRequested = time.Time{}
		p.mu.Unlock()
	}
	log.WithFields(logger.Fields{
		"at":    "(*Context).Restore",
		"peers": len(states),
	}).Debug("restored peer security state")
}
