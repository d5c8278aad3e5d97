//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns a plain net.ListenConfig on platforms
// where the socket option is not set.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
