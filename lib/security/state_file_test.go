package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-zwave/go-s0/lib/common/commandclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatesRoundTrip(t *testing.T) {
	states := []PeerSecurityState{
		{
			Node:                     deviceID,
			State:                    StateSecured,
			SchemeAgreed:             true,
			Secured:                  true,
			SecuredCommandClasses:    commandclass.NewSet(0x62, 0x63),
			ControlledCommandClasses: commandclass.NewSet(0x20),
		},
		{
			Node:  0x09,
			State: StateUnsecuredFallback,
		},
	}

	data, err := MarshalStates(states)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0x62,0x63")

	got, err := UnmarshalStates(data)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, deviceID, got[0].Node)
	assert.Equal(t, StateSecured, got[0].State)
	assert.True(t, got[0].Secured)
	assert.Equal(t, []commandclass.ID{0x62, 0x63}, got[0].SecuredCommandClasses.Sorted())
	assert.Equal(t, []commandclass.ID{0x20}, got[0].ControlledCommandClasses.Sorted())

	assert.Equal(t, StateUnsecuredFallback, got[1].State)
	assert.False(t, got[1].Secured)
	assert.Equal(t, 0, got[1].SecuredCommandClasses.Len())
}

func TestUnmarshalStatesRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad state", "peers:\n  - node: 7\n    state: halfway\n"},
		{"bad class list", "peers:\n  - node: 7\n    state: secured\n    secured_cc: 0x62,zz\n"},
		{"not yaml", "peers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalStates([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalStatesSecuredNeedsSecuredState(t *testing.T) {
	got, err := UnmarshalStates([]byte("peers:\n  - node: 7\n    state: key_verifying\n    secured: true\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Secured)
}

func TestSaveLoadStates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "peers.yaml")
	states := []PeerSecurityState{{
		Node:                  deviceID,
		State:                 StateSecured,
		SchemeAgreed:          true,
		Secured:               true,
		SecuredCommandClasses: commandclass.NewSet(0x62),
	}}

	require.NoError(t, SaveStates(path, states))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := LoadStates(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StateSecured, got[0].State)
	assert.True(t, got[0].SecuredCommandClasses.Contain(0x62))
}

func TestLoadStatesMissingFile(t *testing.T) {
	got, err := LoadStates(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
