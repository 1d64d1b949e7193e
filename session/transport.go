package session

import (
	"context"
	"time"

	"streamflow/models"
)

const (
	// MaxSubscriptions bounds a single Start or AddSubscriptions batch.
	MaxSubscriptions = 50

	MinTimeout          = 1000 * time.Millisecond
	MinListeningTimeout = 10000 * time.Millisecond

	DefaultConnectTimeout   = 3000 * time.Millisecond
	DefaultListeningTimeout = 30000 * time.Millisecond
	DefaultSubscribeTimeout = 1500 * time.Millisecond
)

// Timeouts configures how long a transport waits for the server.
type Timeouts struct {
	// Connect bounds the dial plus login handshake.
	Connect time.Duration
	// Listening is the maximum silence before the connection is considered dead.
	Listening time.Duration
	// Subscribe bounds the wait for a batch of request responses.
	Subscribe time.Duration
}

// DefaultTimeouts returns the stock connect/listening/subscribe timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:   DefaultConnectTimeout,
		Listening: DefaultListeningTimeout,
		Subscribe: DefaultSubscribeTimeout,
	}
}

// Normalize fills zero values with defaults and raises values below the minimums.
func (t Timeouts) Normalize() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultConnectTimeout
	}
	if t.Listening <= 0 {
		t.Listening = DefaultListeningTimeout
	}
	if t.Subscribe <= 0 {
		t.Subscribe = DefaultSubscribeTimeout
	}
	if t.Connect < MinTimeout {
		t.Connect = MinTimeout
	}
	if t.Listening < MinListeningTimeout {
		t.Listening = MinListeningTimeout
	}
	if t.Subscribe < MinTimeout {
		t.Subscribe = MinTimeout
	}
	return t
}

// EventSink receives inbound events. A transport calls it from a single
// goroutine, in the order frames were received.
type EventSink func(models.RawEvent)

// Transport performs login, socket I/O and framing for one session.
//
// Start and AddSubscriptions return one boolean per input subscription.
// When no entry of a batch is answered they return the results together
// with an error wrapping ErrTimeout; for Start a non-nil result slice means
// login succeeded and the transport is live.
// Close releases every resource and must tolerate repeated calls.
type Transport interface {
	Start(ctx context.Context, subs []*models.Subscription) ([]bool, error)
	AddSubscriptions(ctx context.Context, subs []*models.Subscription) ([]bool, error)
	Stop(ctx context.Context) error
	IsActive() bool
	SetQOS(ctx context.Context, qos models.QOS) (bool, error)
	QOS() models.QOS
	Close() error
}

// TransportFactory creates a transport bound to credentials and an event sink.
// It fails with ErrConnection or ErrAuthentication when the identity is unusable.
type TransportFactory func(creds *models.Credentials, sink EventSink, timeouts Timeouts) (Transport, error)
