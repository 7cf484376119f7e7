package kubo

import (
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// FilterPublicAddrs reduces a daemon's address set to what a remote peer
// can actually dial: parseable multiaddrs on public networks, each
// carrying the peer id. Order is preserved and duplicates collapse.
func FilterPublicAddrs(addrs []string, peerID string) []string {
	var p2pSuffix ma.Multiaddr
	if peerID != "" {
		if suffix, err := ma.NewMultiaddr("/p2p/" + peerID); err == nil {
			p2pSuffix = suffix
		}
	}

	seen := make(map[string]bool)
	var usable []string
	for _, raw := range addrs {
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			continue
		}
		if !manet.IsPublicAddr(addr) {
			continue
		}
		if _, err := addr.ValueForProtocol(ma.P_P2P); err != nil && p2pSuffix != nil {
			addr = addr.Encapsulate(p2pSuffix)
		}
		s := addr.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		usable = append(usable, s)
	}
	return usable
}
