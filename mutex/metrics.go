package mutex

import (
	"time"

	"github.com/jathurchan/mcastlock/protocol"
	"github.com/jathurchan/mcastlock/types"
)

// Metrics records what a peer does. Implementations must be safe for concurrent use.
type Metrics interface {
	// ObserveMessageReceived counts a decoded datagram by receiving channel and status.
	ObserveMessageReceived(channel string, status protocol.Status)

	// ObserveMessageDropped counts a datagram discarded before dispatch.
	ObserveMessageDropped(reason string)

	// ObserveMessageSent counts an outbound message by status.
	ObserveMessageSent(status protocol.Status, success bool)

	// ObserveStateChange records a resource state transition.
	ObserveStateChange(from, to types.ResourceState)

	// ObserveAcquireLatency records the time from Acquire to HELD.
	// contested is true when the grant needed replies from other peers.
	ObserveAcquireLatency(latency time.Duration, contested bool)

	// ObserveHoldDuration records how long the resource was held.
	ObserveHoldDuration(d time.Duration)

	// ObserveDeferred counts a request placed in the deferred queue.
	// replaced is true when it superseded an earlier request from the same peer.
	ObserveDeferred(replaced bool)

	// ObserveAcquireRetry counts a WANTED rebroadcast.
	ObserveAcquireRetry()

	// ObserveAcquireTimeout counts an abandoned request.
	ObserveAcquireTimeout()

	// SetGroupSize sets the number of known group members.
	SetGroupSize(n int)

	// SetDeferredQueueSize sets the number of deferred requests.
	SetDeferredQueueSize(n int)
}

type noOpMetrics struct{}

// NewNoOpMetrics returns a Metrics implementation that does nothing.
func NewNoOpMetrics() Metrics {
	return noOpMetrics{}
}

func (noOpMetrics) ObserveMessageReceived(string, protocol.Status)              {}
func (noOpMetrics) ObserveMessageDropped(string)                                {}
func (noOpMetrics) ObserveMessageSent(protocol.Status, bool)                    {}
func (noOpMetrics) ObserveStateChange(types.ResourceState, types.ResourceState) {}
func (noOpMetrics) ObserveAcquireLatency(time.Duration, bool)                   {}
func (noOpMetrics) ObserveHoldDuration(time.Duration)                           {}
func (noOpMetrics) ObserveDeferred(bool)                                        {}
func (noOpMetrics) ObserveAcquireRetry()                                        {}
func (noOpMetrics) ObserveAcquireTimeout()                                      {}
func (noOpMetrics) SetGroupSize(int)                                            {}
func (noOpMetrics) SetDeferredQueueSize(int)                                    {}
