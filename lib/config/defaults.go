package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
)

// ConfigDefaults contains all default configuration values for go-s0.
type ConfigDefaults struct {
	// Node addressing and key location
	Node NodeDefaults

	// Security policy and nonce handling
	Security SecurityDefaults
}

// NodeDefaults contains default values for the local node
type NodeDefaults struct {
	// BaseDir holds the config file, key and peer state
	// Default: $HOME/.go-s0
	BaseDir string

	// NodeID is this controller's node id, used as the MAC source
	// Default: 1
	NodeID uint8

	// TransmitOptions is appended to every SendData frame
	// Default: 0x25 (ACK | AUTO_ROUTE | EXPLORE)
	TransmitOptions uint8

	// NetworkKeyFile holds the network key in hex
	// Default: $HOME/.go-s0/network.key
	NetworkKeyFile string
}

// SecurityDefaults contains default values for the security layer
type SecurityDefaults struct {
	// Strategy is one of essential, supported or custom
	// Default: essential
	Strategy string

	// CustomSecuredCC lists the classes the custom strategy secures
	// Default: 0x62,0x4c,0x63
	CustomSecuredCC string

	// NonceTTL is how long a nonce stays usable
	// Default: 10 seconds
	NonceTTL time.Duration

	// NonceRate limits nonces issued per second to one peer
	// Default: 10
	NonceRate float64

	// NonceBurst is the issuance burst per peer
	// Default: 10
	NonceBurst int

	// StateFile persists peer security state
	// Default: $HOME/.go-s0/peers.yaml
	StateFile string
}

const (
	// node ids above 232 are reserved
	maxNodeID = 232

	// receivers keep nonces between 3 and 20 seconds
	minNonceTTL = 3 * time.Second
	maxNonceTTL = 20 * time.Second
)

var strategies = []string{"essential", "supported", "custom"}

// Defaults returns a ConfigDefaults instance with all default values set.
// This is the single source of truth for all configuration defaults.
func Defaults() ConfigDefaults {
	baseDir := BuildBaseDirPath()

	return ConfigDefaults{
		Node:     buildNodeDefaults(baseDir),
		Security: buildSecurityDefaults(baseDir),
	}
}

func buildNodeDefaults(baseDir string) NodeDefaults {
	return NodeDefaults{
		BaseDir:         baseDir,
		NodeID:          1,
		TransmitOptions: 0x25,
		NetworkKeyFile:  filepath.Join(baseDir, "network.key"),
	}
}

func buildSecurityDefaults(baseDir string) SecurityDefaults {
	return SecurityDefaults{
		Strategy:        "essential",
		CustomSecuredCC: "0x62,0x4c,0x63",
		NonceTTL:        10 * time.Second,
		NonceRate:       10,
		NonceBurst:      10,
		StateFile:       filepath.Join(baseDir, "peers.yaml"),
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg ConfigDefaults) error {
	validators := []func() error{
		func() error { return validateNode(cfg.Node) },
		func() error { return validateSecurity(cfg.Security) },
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "all_validators_passed",
	}).Debug("configuration validated")
	return nil
}

func validateNode(node NodeDefaults) error {
	if node.NodeID < 1 || node.NodeID > maxNodeID {
		log.WithField("node_id", node.NodeID).Error("Invalid node configuration")
		return newValidationError("Node.NodeID must be between 1 and 232")
	}
	if node.NetworkKeyFile == "" {
		return newValidationError("Node.NetworkKeyFile must be set")
	}
	if !filepath.IsAbs(node.NetworkKeyFile) {
		log.WithField("network_key_file", node.NetworkKeyFile).Error("Invalid node configuration")
		return newValidationError("Node.NetworkKeyFile must stay inside base_dir when relative")
	}
	return nil
}

func validateSecurity(sec SecurityDefaults) error {
	if !isStrategy(sec.Strategy) {
		log.WithField("strategy", sec.Strategy).Error("Invalid security configuration")
		return newValidationError("Security.Strategy must be one of " + strings.Join(strategies, ", "))
	}
	if _, err := commandclass.ParseList(sec.CustomSecuredCC); err != nil {
		log.WithField("custom_secured_cc", sec.CustomSecuredCC).Error("Invalid security configuration")
		return newValidationError("Security.CustomSecuredCC must be a comma separated hex list")
	}
	if sec.NonceTTL < minNonceTTL || sec.NonceTTL > maxNonceTTL {
		log.WithField("nonce_ttl", sec.NonceTTL).Error("Invalid security configuration")
		return newValidationError("Security.NonceTTL must be between 3 and 20 seconds")
	}
	if sec.NonceRate <= 0 {
		return newValidationError("Security.NonceRate must be positive")
	}
	if sec.NonceBurst < 1 {
		return newValidationError("Security.NonceBurst must be at least 1")
	}
	if sec.StateFile == "" || !filepath.IsAbs(sec.StateFile) {
		log.WithField("state_file", sec.StateFile).Error("Invalid security configuration")
		return newValidationError("Security.StateFile must be set and stay inside base_dir when relative")
	}
	return nil
}

func isStrategy(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, known := range strategies {
		if s == known {
			return true
		}
	}
	return false
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
