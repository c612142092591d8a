package discovery

import (
	"net/netip"
	"strings"

	"github.com/pingsantohq/peerscope/pkg/types"
)

// ExtractAddress returns the first slash-delimited segment of id that is an
// IPv4 or IPv6 literal. Scoped IPv6 addresses (fe80::1%eth0) are not
// literals and never match.
func ExtractAddress(id string) (netip.Addr, bool) {
	for _, segment := range strings.Split(id, "/") {
		if segment == "" {
			continue
		}
		addr, err := netip.ParseAddr(segment)
		if err == nil && addr.Zone() == "" {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// PeersFromInfos keeps the peers whose identifier carries an address, in
// their original order, each targeting port. It also reports how many were
// dropped.
func PeersFromInfos(infos []types.PeerInfo, port uint16) ([]types.Peer, int) {
	peers := make([]types.Peer, 0, len(infos))
	for _, info := range infos {
		addr, ok := ExtractAddress(info.PeerID)
		if !ok {
			continue
		}
		peers = append(peers, types.Peer{
			PeerID: info.PeerID,
			IP:     addr,
			Port:   port,
		})
	}
	return peers, len(infos) - len(peers)
}
