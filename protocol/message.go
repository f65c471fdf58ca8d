// Package protocol implements the text wire format exchanged between peers.
//
// Every datagram carries a single line "<id> <timestamp> <status>" with fields
// separated by one space and no trailing delimiter. The timestamp is a float
// number of seconds. Which local channel a datagram arrived on, not its payload,
// tells the receiver whether it is a broadcast, a lock reply or a join reply.
package protocol

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/jathurchan/mcastlock/types"
)

// MaxDatagramSize is the largest payload read from or written to a channel.
const MaxDatagramSize = 4096

// Status is the third field of a message. Unknown values are preserved verbatim.
type Status string

const (
	StatusJoin     Status = "JOIN"
	StatusLeave    Status = "LEAVE"
	StatusWanted   Status = "WANTED"
	StatusReleased Status = "RELEASED"
	StatusHeld     Status = "HELD"
	StatusAck      Status = "ACK"
)

// Known reports whether s is one of the statuses the protocol defines.
func (s Status) Known() bool {
	switch s {
	case StatusJoin, StatusLeave, StatusWanted, StatusReleased, StatusHeld, StatusAck:
		return true
	}
	return false
}

// StatusOf returns the status a peer reports for its resource state.
// A disconnected peer reports RELEASED: it holds nothing and wants nothing.
func StatusOf(state types.ResourceState) Status {
	switch state {
	case types.StateWanted:
		return StatusWanted
	case types.StateHeld:
		return StatusHeld
	default:
		return StatusReleased
	}
}

// Message is one decoded datagram. Source is the sender's address as observed by
// the receiving socket and is never part of the payload.
type Message struct {
	ID        types.PeerID
	Timestamp float64
	Status    Status
	Source    net.Addr
}

// Encode formats m as a datagram payload. Source is not encoded.
func Encode(m Message) []byte {
	ts := strconv.FormatFloat(m.Timestamp, 'f', -1, 64)
	b := make([]byte, 0, len(m.ID)+len(ts)+len(m.Status)+2)
	b = append(b, m.ID...)
	b = append(b, ' ')
	b = append(b, ts...)
	b = append(b, ' ')
	b = append(b, m.Status...)
	return b
}

// Decode parses a datagram payload received from source.
// Fields beyond the third are ignored. A trailing line break is tolerated.
func Decode(payload []byte, source net.Addr) (Message, error) {
	line := strings.TrimRight(string(payload), "\r\n")
	fields := strings.Split(line, " ")
	if len(fields) < 3 {
		return Message{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedMessage, len(fields))
	}
	if fields[0] == "" {
		return Message{}, fmt.Errorf("%w: empty peer id", ErrMalformedMessage)
	}

	ts, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedMessage, fields[1], err)
	}
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Message{}, fmt.Errorf("%w: timestamp %q is not finite", ErrMalformedMessage, fields[1])
	}

	return Message{
		ID:        types.PeerID(fields[0]),
		Timestamp: ts,
		Status:    Status(fields[2]),
		Source:    source,
	}, nil
}

// String renders m the way it travels on the wire, for logs.
func (m Message) String() string {
	return string(Encode(m))
}
