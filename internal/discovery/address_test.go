package discovery

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingsantohq/peerscope/pkg/types"
)

func TestExtractAddress(t *testing.T) {
	cases := []struct {
		id   string
		want string
	}{
		{"/ip4/10.0.0.1/tcp/30333/p2p/12D3KooWA", "10.0.0.1"},
		{"/ip6/2001:db8::7/tcp/30333/p2p/12D3KooWB", "2001:db8::7"},
		{"/dns4/node.example.com/ip4/192.0.2.9/tcp/1", "192.0.2.9"},
		{"/ip4/198.51.100.1/ip4/198.51.100.2", "198.51.100.1"},
		{"203.0.113.4", "203.0.113.4"},
	}
	for _, tc := range cases {
		addr, ok := ExtractAddress(tc.id)
		require.True(t, ok, tc.id)
		assert.Equal(t, netip.MustParseAddr(tc.want), addr, tc.id)
	}
}

func TestExtractAddressMissing(t *testing.T) {
	for _, id := range []string{
		"",
		"/ip4/bad",
		"12D3KooWQx8y",
		"/dns4/node.example.com/tcp/30333",
		"/ip4/10.0.0.256/tcp/1",
		"//",
		"/ip6/fe80::1%eth0/tcp/30333",
		"fe80::1%25",
	} {
		_, ok := ExtractAddress(id)
		assert.False(t, ok, id)
	}
}

func TestExtractAddressIsPure(t *testing.T) {
	id := "/ip4/10.1.2.3/tcp/30333/p2p/X"
	first, ok1 := ExtractAddress(id)
	second, ok2 := ExtractAddress(id)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)

	_, okA := ExtractAddress("/ip4/bad")
	_, okB := ExtractAddress("/ip4/bad")
	assert.False(t, okA)
	assert.False(t, okB)
}

func TestPeersFromInfosKeepsOrderAndDuplicates(t *testing.T) {
	infos := []types.PeerInfo{
		{PeerID: "/ip4/10.0.0.3/tcp/30333/p2p/C"},
		{PeerID: "12D3KooWNoAddr"},
		{PeerID: "/ip4/10.0.0.1/tcp/9999/p2p/A"},
		{PeerID: "/ip4/10.0.0.3/tcp/30333/p2p/C"},
		{PeerID: "/ip4/bad"},
	}

	peers, excluded := PeersFromInfos(infos, 30333)
	require.Len(t, peers, 3)
	assert.Equal(t, 2, excluded)

	assert.Equal(t, "/ip4/10.0.0.3/tcp/30333/p2p/C", peers[0].PeerID)
	assert.Equal(t, "/ip4/10.0.0.1/tcp/9999/p2p/A", peers[1].PeerID)
	assert.Equal(t, peers[0], peers[2])
	for _, p := range peers {
		assert.Equal(t, uint16(30333), p.Port, "embedded port must be ignored")
	}
}
