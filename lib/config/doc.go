// Package config provides configuration management for go-s0.
//
// # Configuration Directory
//
// All state lives under a single base directory, $HOME/.go-s0 by default:
//   - config.yaml: created with defaults on first run
//   - network.key: the S0 network key as 32 hex digits, mode 0600
//   - peers.yaml: persisted peer security state, mode 0600
//
// The directory itself is created 0700 because it holds the network key.
//
// # Keys
//
//	base_dir                    base directory
//	node_id                     this node's id on the Z-Wave network
//	transmit_options            SendData transmit options byte
//	network_key_file            path of the network key
//	security.strategy           essential, supported or custom
//	security.custom_secured_cc  comma separated hex list used by "custom"
//	security.nonce_ttl          lifetime of issued and received nonces
//	security.nonce_rate         nonces issued per second and peer
//	security.nonce_burst        nonce issuance burst per peer
//	security.state_file         path of the peer state file
package config
