// Package transport provides the three logical channels a peer talks on.
//
// The listener channel is joined to the multicast group and receives every
// broadcast. The lock channel sends lock requests and receives the replies to
// them. The join channel announces JOIN/LEAVE and receives the welcome replies.
// Replies are unicast to the address a request came from, so the receiving
// channel tells the peer what kind of reply it is.
package transport

import (
	"context"
	"net"
)

// Role names one of the logical channels.
type Role int

const (
	RoleListener Role = iota
	RoleLock
	RoleJoin
)

// Roles lists every channel role, in the order channels are opened.
var Roles = []Role{RoleListener, RoleLock, RoleJoin}

func (r Role) String() string {
	switch r {
	case RoleListener:
		return "listener"
	case RoleLock:
		return "lock"
	case RoleJoin:
		return "join"
	default:
		return "unknown"
	}
}

// IsValid reports whether r is one of the defined roles.
func (r Role) IsValid() bool {
	return r == RoleListener || r == RoleLock || r == RoleJoin
}

// Datagram is one payload received on a channel.
type Datagram struct {
	Role    Role     // Channel that received the payload
	Epoch   uint64   // Generation of the receiving channel, see Network.Renew
	Payload []byte   // Raw payload, owned by the receiver
	Source  net.Addr // Sender address as seen by the receiving socket
}

// Network is the set of channels a peer owns while connected.
//
// Inbound is available before Open and stays valid across Open/Close cycles;
// it is never closed. Reader goroutines only hand datagrams to it and never touch
// peer state.
type Network interface {
	// Open creates the listener, lock and join channels and starts reading from them.
	// Opening an already open network is a no-op.
	Open(ctx context.Context) error

	// Inbound delivers datagrams from every open channel, tagged with their role.
	Inbound() <-chan Datagram

	// Broadcast sends payload to the whole group from the channel with the given role.
	Broadcast(role Role, payload []byte) error

	// SendTo unicasts payload to addr from the channel with the given role.
	SendTo(role Role, addr net.Addr, payload []byte) error

	// LocalAddr returns the local address of a channel, or nil if it is not open.
	LocalAddr(role Role) net.Addr

	// Renew replaces the channel with the given role by a fresh one at a new address
	// and returns its generation. Datagrams sent to the old address are never
	// delivered again; datagrams the old channel already queued keep the old
	// generation. Only the lock and join channels can be renewed.
	Renew(role Role) (uint64, error)

	// Close stops the readers and closes every channel. Closing twice is a no-op.
	Close() error
}
