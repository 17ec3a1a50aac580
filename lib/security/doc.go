// Package security implements Z-Wave Security 0 (S0) frame protection and
// network key exchange.
//
// Outbound application payloads are sealed into SendData frames with Seal and
// inbound encapsulated payloads are verified and decrypted with Open. Both use
// the key material derived from the network key by lib/crypto. A Context ties
// the codec to the per-peer nonce exchange, the key exchange handshake run
// while a node is included, and the policy deciding which command classes
// must travel encrypted.
package security
