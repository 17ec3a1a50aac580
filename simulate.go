package main

import (
	"fmt"
	"slices"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/go-zwave/go-s0/lib/config"
	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/security"
	"github.com/go-zwave/go-s0/lib/transport/serial"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// maxExchanges bounds the frames one simulated inclusion may take
const maxExchanges = 64

func newSimulateCommand() *cobra.Command {
	var (
		node    uint8
		classes string
		save    bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a secure inclusion against an in-memory device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			m, err := loadKeyMaterial()
			if err != nil {
				return err
			}
			policy, err := loadPolicy()
			if err != nil {
				return err
			}
			secured, err := commandclass.ParseList(classes)
			if err != nil {
				return err
			}

			nonces := security.NewNonceStore(
				security.WithNonceTTL(cfg.Security.NonceTTL),
				security.WithIssueRate(rate.Limit(cfg.Security.NonceRate), cfg.Security.NonceBurst),
			)
			defer nonces.Close()

			link := &loopback{txOptions: cfg.Node.TransmitOptions}
			ctx, err := security.NewContext(m, link, nonces, security.Options{
				NodeID:              security.NodeID(cfg.Node.NodeID),
				Role:                security.RoleInclusionController,
				Policy:              policy,
				NonceRequestTimeout: cfg.Security.NonceTTL,
			})
			if err != nil {
				return err
			}
			previous, err := security.LoadStates(cfg.Security.StateFile)
			if err != nil {
				return err
			}
			// an included node starts over, whatever was known about it
			ctx.Restore(slices.DeleteFunc(previous, func(st security.PeerSecurityState) bool {
				return st.Node == security.NodeID(node)
			}))

			dev, err := newSimulatedDevice(security.NodeID(node), security.NodeID(cfg.Node.NodeID), secured.Sorted())
			if err != nil {
				return err
			}
			if err := ctx.StartHandshake(dev.id); err != nil {
				return err
			}
			n, err := link.run(ctx, dev)
			if err != nil {
				return err
			}

			st := ctx.PeerState(dev.id)
			fmt.Fprintf(cmd.OutOrStdout(), "node %d %s after %d frames\n", st.Node, st.State, n)
			if !save {
				return nil
			}
			return security.SaveStates(cfg.Security.StateFile, ctx.Snapshot())
		},
	}
	cmd.Flags().Uint8Var(&node, "node", 2, "simulated device node id")
	cmd.Flags().StringVar(&classes, "classes", "0x62,0x63", "classes the device reports as secured")
	cmd.Flags().BoolVar(&save, "save", true, "persist the resulting peer state")
	return cmd
}

// loopback is a Transport that queues outbound frames for a simulated device
type loopback struct {
	txOptions byte
	outbox    [][]byte
}

func (l *loopback) SendRawFrame(_ security.NodeID, frame []byte) error {
	l.outbox = append(l.outbox, frame)
	return nil
}

func (l *loopback) TransmitOptions() byte {
	return l.txOptions
}

// run delivers queued frames to dev and feeds its answers back to ctx until
// both sides fall silent. It returns the number of frames exchanged.
func (l *loopback) run(ctx *security.Context, dev *simulatedDevice) (int, error) {
	exchanged := 0
	for len(l.outbox) > 0 {
		if exchanged >= maxExchanges {
			return exchanged, oops.Errorf("inclusion did not settle after %d frames", exchanged)
		}
		frame := l.outbox[0]
		l.outbox = l.outbox[1:]
		exchanged++

		var sd serial.SendData
		if err := sd.UnmarshalBinary(frame); err != nil {
			return exchanged, err
		}
		replies, err := dev.receive(sd.Payload)
		if err != nil {
			return exchanged, err
		}
		for _, reply := range replies {
			ac := serial.ApplicationCommand{Source: dev.id, Payload: reply}
			raw, err := ac.MarshalBinary()
			if err != nil {
				return exchanged, err
			}
			exchanged++
			if _, _, err := ctx.HandleSerialFrame(raw); err != nil {
				return exchanged, err
			}
		}
	}
	return exchanged, nil
}

// simulatedDevice answers a controller's key exchange the way a secure slave
// does. It holds one outstanding nonce and queues encrypted replies until the
// controller hands it a nonce.
type simulatedDevice struct {
	id         security.NodeID
	controller security.NodeID
	classes    []commandclass.ID

	bootstrap *crypto.KeyMaterial
	network   *crypto.KeyMaterial
	nonce     security.Nonce
	queued    [][]byte
}

func newSimulatedDevice(id, controller security.NodeID, classes []commandclass.ID) (*simulatedDevice, error) {
	bootstrap, err := crypto.BootstrapKeyMaterial()
	if err != nil {
		return nil, err
	}
	return &simulatedDevice{id: id, controller: controller, classes: classes, bootstrap: bootstrap}, nil
}

func (d *simulatedDevice) keys() *crypto.KeyMaterial {
	if d.network != nil {
		return d.network
	}
	return d.bootstrap
}

func (d *simulatedDevice) receive(payload []byte) ([][]byte, error) {
	if len(payload) < 2 || commandclass.ID(payload[0]) != commandclass.Security {
		return nil, nil
	}
	switch cmd := payload[1]; cmd {
	case security.CommandSchemeGet:
		return [][]byte{d.command(security.CommandSchemeReport, security.SchemeZero)}, nil
	case security.CommandNonceGet:
		report, err := d.nonceReport()
		if err != nil {
			return nil, err
		}
		return [][]byte{report}, nil
	case security.CommandNonceReport:
		return d.flush(payload)
	case security.CommandMessageEncap, security.CommandMessageEncapNonceGet:
		return d.decrypt(cmd, payload)
	}
	return nil, nil
}

func (d *simulatedDevice) decrypt(cmd byte, payload []byte) ([][]byte, error) {
	plaintext, err := security.Open(d.keys(), d.controller, d.id, payload, d.nonce)
	if err != nil {
		return nil, err
	}
	d.nonce = security.Nonce{}

	var out [][]byte
	if cmd == security.CommandMessageEncapNonceGet {
		report, err := d.nonceReport()
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	if len(plaintext) < 2 || commandclass.ID(plaintext[0]) != commandclass.Security {
		return out, nil
	}

	switch plaintext[1] {
	case security.CommandNetworkKeySet:
		if len(plaintext) < 2+len(crypto.NetworkKey{}) {
			return nil, oops.Errorf("short network key from node %d", d.controller)
		}
		var key crypto.NetworkKey
		copy(key[:], plaintext[2:])
		if d.network, err = crypto.DeriveKeyMaterial(key); err != nil {
			return nil, err
		}
		d.queued = append(d.queued, d.command(security.CommandNetworkKeyVerify))
		out = append(out, d.command(security.CommandNonceGet))
	case security.CommandSupportedGet:
		report := d.command(security.CommandSupportedReport, 0x00)
		for _, cc := range d.classes {
			report = append(report, byte(cc))
		}
		d.queued = append(d.queued, report)
		out = append(out, d.command(security.CommandNonceGet))
	default:
		log.WithFields(logger.Fields{
			"at":      "(*simulatedDevice).decrypt",
			"reason":  "unhandled_command",
			"command": security.CommandName(plaintext[1]),
		}).Debug("simulated device ignores command")
	}
	return out, nil
}

// flush seals the oldest queued reply with the controller's nonce
func (d *simulatedDevice) flush(payload []byte) ([][]byte, error) {
	if len(d.queued) == 0 {
		return nil, nil
	}
	if len(payload) < 2+security.NonceSize {
		return nil, oops.Errorf("short nonce report from node %d", d.controller)
	}
	var n security.Nonce
	copy(n[:], payload[2:])

	var random [8]byte
	if _, err := rand.Read(random[:]); err != nil {
		return nil, oops.Wrapf(err, "failed to generate IV")
	}
	next := d.queued[0]
	d.queued = d.queued[1:]
	frame, err := security.Seal(d.network, security.Header{
		Source:      d.id,
		Destination: d.controller,
	}, random, n, next)
	if err != nil {
		return nil, err
	}
	var sd serial.SendData
	if err := sd.UnmarshalBinary(frame); err != nil {
		return nil, err
	}
	return [][]byte{sd.Payload}, nil
}

func (d *simulatedDevice) nonceReport() ([]byte, error) {
	d.nonce = security.Nonce{}
	for d.nonce.ID() == 0 {
		if _, err := rand.Read(d.nonce[:]); err != nil {
			return nil, oops.Wrapf(err, "failed to generate nonce")
		}
	}
	return d.command(security.CommandNonceReport, d.nonce[:]...), nil
}

func (d *simulatedDevice) command(cmd byte, params ...byte) []byte {
	return append([]byte{byte(commandclass.Security), cmd}, params...)
}
