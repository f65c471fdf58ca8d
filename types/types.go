package types

import (
	"errors"
	"strings"
	"unicode"
)

// PeerID identifies a peer within a multicast group.
// It is chosen at startup and must be unique within the group; two peers sharing
// an id is undefined behavior and is not detected.
type PeerID string

// NoTimestamp marks the absence of an outstanding lock request.
// Timestamps only take part in priority comparisons when they are > 0.
const NoTimestamp float64 = -1

// ErrInvalidPeerID is returned when a peer id cannot be carried on the wire.
var ErrInvalidPeerID = errors.New("types: invalid peer id")

// Validate reports whether the id can be encoded in the space-delimited wire format.
func (id PeerID) Validate() error {
	if id == "" {
		return errors.Join(ErrInvalidPeerID, errors.New("peer id cannot be empty"))
	}
	if strings.IndexFunc(string(id), unicode.IsSpace) >= 0 {
		return errors.Join(ErrInvalidPeerID, errors.New("peer id cannot contain whitespace"))
	}
	return nil
}

// ResourceState is the local view of the shared resource.
type ResourceState int

const (
	// StateDisconnected is the state before JOIN and after EXIT.
	// The peer is not part of any group and owns no channels.
	StateDisconnected ResourceState = iota

	// StateReleased means the peer neither holds nor wants the resource.
	// Requests from other peers are answered immediately.
	StateReleased

	// StateWanted means the peer broadcast a request and is collecting replies.
	// Requests with a later timestamp are deferred; earlier ones are answered.
	StateWanted

	// StateHeld means the peer has exclusive access to the resource.
	// Every incoming request is deferred until release.
	StateHeld
)
