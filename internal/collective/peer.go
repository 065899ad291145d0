package collective

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PeerID locates one worker process in the group.
type PeerID struct {
	Host string
	Port int
}

func (p PeerID) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ParsePeer parses a "host:port" address.
func ParsePeer(s string) (PeerID, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return PeerID{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PeerID{}, fmt.Errorf("invalid peer port in %q: %w", s, err)
	}
	return PeerID{Host: host, Port: port}, nil
}

// PeerList is the ordered group membership; a peer's position is its rank.
type PeerList []PeerID

// ParsePeerList parses the configured peer addresses, preserving order.
func ParsePeerList(addrs []string) (PeerList, error) {
	pl := make(PeerList, 0, len(addrs))
	for _, a := range addrs {
		p, err := ParsePeer(a)
		if err != nil {
			return nil, err
		}
		pl = append(pl, p)
	}
	return pl, nil
}

// Rank returns the zero-based position of p in the list.
func (pl PeerList) Rank(p PeerID) (int, bool) {
	for i, q := range pl {
		if q == p {
			return i, true
		}
	}
	return -1, false
}

func (pl PeerList) String() string {
	parts := make([]string, len(pl))
	for i, p := range pl {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
