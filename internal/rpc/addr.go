package rpc

import (
	"regexp"
	"strings"
)

// Network identifies which net package network name ParseAddr resolved to.
type Network string

const (
	Unix Network = "unix"
	TCP  Network = "tcp"
)

var tcpHostPort = regexp.MustCompile(`^(\[[0-9a-fA-F:]+\]|[^/:]+):\d+$`)

// ParseAddr resolves addr per spec §6:
//  1. "unix://" prefix → strip, Unix.
//  2. "tcp://" prefix → strip, TCP.
//  3. host:port / [ipv6]:port shape → TCP.
//  4. else → Unix.
func ParseAddr(addr string) (Network, string) {
	switch {
	case strings.HasPrefix(addr, "unix://"):
		return Unix, strings.TrimPrefix(addr, "unix://")
	case strings.HasPrefix(addr, "tcp://"):
		return TCP, strings.TrimPrefix(addr, "tcp://")
	case tcpHostPort.MatchString(addr):
		return TCP, addr
	default:
		return Unix, addr
	}
}
