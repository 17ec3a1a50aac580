package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/go-zwave/go-s0/lib/config"
	"github.com/go-zwave/go-s0/lib/crypto"
	"github.com/go-zwave/go-s0/lib/crypto/aes"
	"github.com/go-zwave/go-s0/lib/security"
	"github.com/go-zwave/go-s0/lib/transport/serial"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "go-s0",
		Short:        "Z-Wave Security 0 key, frame and policy tool",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitConfig(); err != nil {
				return err
			}
			return config.Validate(config.CurrentConfig())
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-s0/config.yaml)")

	root.AddCommand(
		newKeygenCommand(),
		newDeriveCommand(),
		newSealCommand(),
		newOpenCommand(),
		newPolicyCommand(),
		newPeersCommand(),
		newSimulateCommand(),
	)
	return root
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random network key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			key, err := crypto.GenerateNetworkKey()
			if err != nil {
				return err
			}
			if err := config.WriteNetworkKey(cfg.Node.NetworkKeyFile, key); err != nil {
				return err
			}
			m, err := crypto.DeriveKeyMaterial(key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (kcv %s)\n", cfg.Node.NetworkKeyFile, m.KeyCheckValue())
			return nil
		},
	}
}

func newDeriveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "derive",
		Short: "Print check values of the network key and its derived keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadKeyMaterial()
			if err != nil {
				return err
			}
			bootstrap, err := crypto.BootstrapKeyMaterial()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "network\t%s\n", m.KeyCheckValue())
			fmt.Fprintf(w, "encryption\t%s\n", checkValue(m.EncryptionKey()))
			fmt.Fprintf(w, "authentication\t%s\n", checkValue(m.AuthenticationKey()))
			fmt.Fprintf(w, "bootstrap\t%s\n", bootstrap.KeyCheckValue())
			return w.Flush()
		},
	}
}

func newSealCommand() *cobra.Command {
	var (
		destination  uint8
		nonceHex     string
		randomHex    string
		requestNonce bool
		callbackID   uint8
	)
	cmd := &cobra.Command{
		Use:   "seal <plaintext hex>",
		Short: "Encrypt a command payload into a SendData frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			m, err := loadKeyMaterial()
			if err != nil {
				return err
			}
			plaintext, err := parseHex(args[0])
			if err != nil {
				return err
			}
			nonce, err := parseNonce(nonceHex)
			if err != nil {
				return err
			}
			var random [8]byte
			if randomHex == "" {
				if _, err := rand.Read(random[:]); err != nil {
					return oops.Wrapf(err, "failed to generate IV")
				}
			} else if random, err = parseNonce(randomHex); err != nil {
				return err
			}

			frame, err := security.Seal(m, security.Header{
				Source:       security.NodeID(cfg.Node.NodeID),
				Destination:  security.NodeID(destination),
				TxOptions:    cfg.Node.TransmitOptions,
				CallbackID:   callbackID,
				RequestNonce: requestNonce,
			}, random, nonce, plaintext)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(frame))
			return nil
		},
	}
	cmd.Flags().Uint8Var(&destination, "dest", 0, "destination node id")
	cmd.Flags().StringVar(&nonceHex, "nonce", "", "8 byte receiver nonce in hex")
	cmd.Flags().StringVar(&randomHex, "random", "", "8 byte sender random in hex (default: generated)")
	cmd.Flags().BoolVar(&requestNonce, "request-nonce", false, "ask the receiver for a new nonce")
	cmd.Flags().Uint8Var(&callbackID, "callback", 1, "SendData callback id")
	_ = cmd.MarkFlagRequired("dest")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func newOpenCommand() *cobra.Command {
	var (
		source      uint8
		destination uint8
		nonceHex    string
	)
	cmd := &cobra.Command{
		Use:   "open <frame or payload hex>",
		Short: "Verify and decrypt an encapsulated payload",
		Long: "Accepts a SendData frame, an ApplicationCommandHandler frame or a bare\n" +
			"encapsulated payload starting at the 0x98 command class byte.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.CurrentConfig()
			m, err := loadKeyMaterial()
			if err != nil {
				return err
			}
			raw, err := parseHex(args[0])
			if err != nil {
				return err
			}
			nonce, err := parseNonce(nonceHex)
			if err != nil {
				return err
			}

			src, dst := security.NodeID(source), security.NodeID(destination)
			if !cmd.Flags().Changed("dest") {
				dst = security.NodeID(cfg.Node.NodeID)
			}
			payload := raw
			var sd serial.SendData
			var ac serial.ApplicationCommand
			switch {
			case sd.UnmarshalBinary(raw) == nil:
				payload, dst = sd.Payload, sd.Destination
				if !cmd.Flags().Changed("source") {
					src = security.NodeID(cfg.Node.NodeID)
				}
			case ac.UnmarshalBinary(raw) == nil:
				payload, src = ac.Payload, ac.Source
			}

			plaintext, err := security.Open(m, src, dst, payload, nonce)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(plaintext))
			return nil
		},
	}
	cmd.Flags().Uint8Var(&source, "source", 0, "sending node id")
	cmd.Flags().Uint8Var(&destination, "dest", 0, "receiving node id (default: node_id)")
	cmd.Flags().StringVar(&nonceHex, "nonce", "", "8 byte receiver nonce in hex")
	_ = cmd.MarkFlagRequired("nonce")
	return cmd
}

func newPolicyCommand() *cobra.Command {
	var peerSecured string
	cmd := &cobra.Command{
		Use:   "policy <command class>...",
		Short: "Show whether command classes must be sent encrypted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadPolicy()
			if err != nil {
				return err
			}
			secured, err := commandclass.ParseList(peerSecured)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, arg := range args {
				cc, err := commandclass.ParseID(arg)
				if err != nil {
					return err
				}
				verdict := "plain"
				if policy.Requires(cc, secured) {
					verdict = "secure"
				}
				fmt.Fprintf(w, "0x%02x\t%s\t%s\n", uint8(cc), cc, verdict)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&peerSecured, "peer-secured", "", "classes the peer reported secured, e.g. 0x25,0x62")
	return cmd
}

func newPeersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List persisted peer security state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := security.LoadStates(config.CurrentConfig().Security.StateFile)
			if err != nil {
				return err
			}
			return printPeers(cmd.OutOrStdout(), states)
		},
	}
}

func printPeers(out io.Writer, states []security.PeerSecurityState) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSTATE\tSECURED CLASSES\tCONTROLLED CLASSES")
	for _, st := range states {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", st.Node, st.State,
			orDash(st.SecuredCommandClasses.String()), orDash(st.ControlledCommandClasses.String()))
	}
	return w.Flush()
}

func loadKeyMaterial() (*crypto.KeyMaterial, error) {
	key, err := config.ReadNetworkKey(config.CurrentConfig().Node.NetworkKeyFile)
	if err != nil {
		return nil, oops.Wrapf(err, "run 'go-s0 keygen' to create a network key")
	}
	return crypto.DeriveKeyMaterial(key)
}

func loadPolicy() (security.Policy, error) {
	sec := config.CurrentConfig().Security
	strategy, err := security.ParseStrategy(sec.Strategy)
	if err != nil {
		return security.Policy{}, err
	}
	custom, err := commandclass.ParseList(sec.CustomSecuredCC)
	if err != nil {
		return security.Policy{}, err
	}
	return security.Policy{Strategy: strategy, Custom: custom}, nil
}

// checkValue fingerprints a derived key the way KeyCheckValue does the
// network key
func checkValue(key aes.Key128) string {
	out, err := aes.EncryptBlock(key, aes.Block{})
	if err != nil {
		return "?"
	}
	return hex.EncodeToString(out[:3])
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(strings.ToLower(s))
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, oops.Wrapf(err, "invalid hex input")
	}
	return b, nil
}

func parseNonce(s string) (security.Nonce, error) {
	var n security.Nonce
	b, err := parseHex(s)
	if err != nil {
		return n, err
	}
	if len(b) != len(n) {
		return n, oops.Errorf("expected %d bytes, got %d", len(n), len(b))
	}
	copy(n[:], b)
	return n, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
