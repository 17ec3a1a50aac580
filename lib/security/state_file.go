package security

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/go-zwave/go-s0/lib/config"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// peerRecord is the on-disk form of a PeerSecurityState
type peerRecord struct {
	Node         uint8  `yaml:"node"`
	State        string `yaml:"state"`
	SchemeAgreed bool   `yaml:"scheme_agreed"`
	Secured      bool   `yaml:"secured"`
	SecuredCC    string `yaml:"secured_cc,omitempty"`
	ControlledCC string `yaml:"controlled_cc,omitempty"`
}

type stateFile struct {
	Peers []peerRecord `yaml:"peers"`
}

// MarshalStates encodes peer states as YAML
func MarshalStates(states []PeerSecurityState) ([]byte, error) {
	doc := stateFile{Peers: make([]peerRecord, 0, len(states))}
	for _, st := range states {
		doc.Peers = append(doc.Peers, peerRecord{
			Node:         uint8(st.Node),
			State:        st.State.String(),
			SchemeAgreed: st.SchemeAgreed,
			Secured:      st.Secured,
			SecuredCC:    st.SecuredCommandClasses.String(),
			ControlledCC: st.ControlledCommandClasses.String(),
		})
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, oops.Wrapf(err, "failed to encode peer states")
	}
	return out, nil
}

// UnmarshalStates decodes peer states written by MarshalStates
func UnmarshalStates(data []byte) ([]PeerSecurityState, error) {
	var doc stateFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.Wrapf(err, "failed to decode peer states")
	}

	states := make([]PeerSecurityState, 0, len(doc.Peers))
	for _, rec := range doc.Peers {
		state, err := ParseHandshakeState(rec.State)
		if err != nil {
			return nil, oops.Wrapf(err, "node %d", rec.Node)
		}
		secured, err := commandclass.ParseList(rec.SecuredCC)
		if err != nil {
			return nil, oops.Wrapf(err, "node %d secured classes", rec.Node)
		}
		controlled, err := commandclass.ParseList(rec.ControlledCC)
		if err != nil {
			return nil, oops.Wrapf(err, "node %d controlled classes", rec.Node)
		}
		states = append(states, PeerSecurityState{
			Node:                     NodeID(rec.Node),
			State:                    state,
			SchemeAgreed:             rec.SchemeAgreed,
			Secured:                  rec.Secured && state == StateSecured,
			SecuredCommandClasses:    secured,
			ControlledCommandClasses: controlled,
		})
	}
	return states, nil
}

// SaveStates writes peer states to path with owner-only permissions
func SaveStates(path string, states []PeerSecurityState) error {
	data, err := MarshalStates(states)
	if err != nil {
		return err
	}
	if err := config.CreateSecureDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	if err := config.WriteSecureFile(path, data); err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"at":    "SaveStates",
		"path":  path,
		"peers": len(states),
	}).Debug("saved peer security state")
	return nil
}

// LoadStates reads peer states from path. A missing file holds no peers.
func LoadStates(path string) ([]PeerSecurityState, error) {
	config.RestrictSecretFile(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, oops.Wrapf(err, "failed to read peer states")
	}
	return UnmarshalStates(data)
}
