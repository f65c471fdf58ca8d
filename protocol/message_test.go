package protocol

import (
	"net"
	"testing"

	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/types"
)

var testSource = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 40001}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"integer timestamp", Message{ID: "A", Timestamp: 100, Status: StatusWanted}, "A 100 WANTED"},
		{"fractional timestamp", Message{ID: "peer-7", Timestamp: 1700000000.123456, Status: StatusJoin}, "peer-7 1700000000.123456 JOIN"},
		{"sentinel timestamp", Message{ID: "B", Timestamp: types.NoTimestamp, Status: StatusReleased}, "B -1 RELEASED"},
		{"unknown status", Message{ID: "C", Timestamp: 1.5, Status: "PING"}, "C 1.5 PING"},
		{"source is not encoded", Message{ID: "D", Timestamp: 2, Status: StatusAck, Source: testSource}, "D 2 ACK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, tt.want, string(Encode(tt.msg)))
		})
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	msgs := []Message{
		{ID: "A", Timestamp: 100, Status: StatusWanted, Source: testSource},
		{ID: "B", Timestamp: 1700000000.987654321, Status: StatusHeld, Source: testSource},
		{ID: "42", Timestamp: types.NoTimestamp, Status: StatusReleased, Source: testSource},
		{ID: "x", Timestamp: 0.1 + 0.2, Status: "SOMETHING-ELSE", Source: testSource},
		{ID: "y", Timestamp: 5e-9, Status: StatusLeave, Source: nil},
	}

	for _, m := range msgs {
		t.Run(m.String(), func(t *testing.T) {
			got, err := Decode(Encode(m), m.Source)
			testutil.RequireNoError(t, err)
			testutil.AssertEqual(t, m, got)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"one field", "A"},
		{"two fields", "A 100"},
		{"non numeric timestamp", "A abc WANTED"},
		{"empty timestamp", "A  WANTED"},
		{"empty id", " 100 WANTED"},
		{"NaN timestamp", "A NaN WANTED"},
		{"infinite timestamp", "A +Inf WANTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload), testSource)
			testutil.AssertErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestDecode_Lenient(t *testing.T) {
	t.Run("extra fields ignored", func(t *testing.T) {
		m, err := Decode([]byte("A 100 WANTED trailing junk"), testSource)
		testutil.RequireNoError(t, err)
		testutil.AssertEqual(t, StatusWanted, m.Status)
	})

	t.Run("trailing newline trimmed", func(t *testing.T) {
		m, err := Decode([]byte("A 100 JOIN\r\n"), testSource)
		testutil.RequireNoError(t, err)
		testutil.AssertEqual(t, StatusJoin, m.Status)
	})

	t.Run("unknown status preserved", func(t *testing.T) {
		m, err := Decode([]byte("A 1 hello"), testSource)
		testutil.RequireNoError(t, err)
		testutil.AssertEqual(t, Status("hello"), m.Status)
		testutil.AssertFalse(t, m.Status.Known())
	})
}

func TestStatus_Known(t *testing.T) {
	for _, s := range []Status{StatusJoin, StatusLeave, StatusWanted, StatusReleased, StatusHeld, StatusAck} {
		testutil.AssertTrue(t, s.Known(), "%s should be known", s)
	}
	for _, s := range []Status{"", "join", "PING", "DISCONNECTED"} {
		testutil.AssertFalse(t, s.Known(), "%q should not be known", s)
	}
}

func TestStatusOf(t *testing.T) {
	testutil.AssertEqual(t, StatusReleased, StatusOf(types.StateDisconnected))
	testutil.AssertEqual(t, StatusReleased, StatusOf(types.StateReleased))
	testutil.AssertEqual(t, StatusWanted, StatusOf(types.StateWanted))
	testutil.AssertEqual(t, StatusHeld, StatusOf(types.StateHeld))
}
