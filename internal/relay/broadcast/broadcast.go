// Package broadcast fans messages out to registered peer sessions.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/relaychat/internal/relay/message"
	"github.com/louisbranch/relaychat/internal/relay/registry"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
	// Delivered means the payload reached the peer's transport.
	Delivered Outcome = iota
	// PeerGone means the transport reports the destination no longer exists.
	PeerGone
	// TransportError means a transient failure; the peer may still exist.
	TransportError
)

// String names an outcome for logs.
func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case PeerGone:
		return "peer_gone"
	case TransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sender delivers a payload to one peer session.
type Sender interface {
	Send(ctx context.Context, sessionID string, payload []byte) (Outcome, error)
}

// Delivery records the outcome of one delivery attempt.
type Delivery struct {
	SessionID string
	Outcome   Outcome
	Err       error
}

// Reaper removes registry entries whose transport is confirmed dead.
type Reaper struct {
	registry *registry.Registry
}

// NewReaper creates a Reaper over the given registry.
func NewReaper(reg *registry.Registry) *Reaper {
	return &Reaper{registry: reg}
}

// Reap unregisters a stale session. Failures are logged, never propagated;
// reaping is a cleanup side effect, not part of any request's outcome.
func (r *Reaper) Reap(ctx context.Context, sessionID string) {
	if r == nil || r.registry == nil {
		return
	}
	if err := r.registry.Unregister(ctx, sessionID); err != nil {
		log.Printf("relay: reap stale session %s: %v", sessionID, err)
		return
	}
	log.Printf("relay: reaped stale session %s", sessionID)
}

// Broadcaster delivers envelopes to sets of peer sessions.
type Broadcaster struct {
	sender Sender
	reaper *Reaper
}

// New creates a Broadcaster over the given unicast transport.
func New(sender Sender, reaper *Reaper) *Broadcaster {
	return &Broadcaster{sender: sender, reaper: reaper}
}

// Broadcast delivers env to every target independently; one target's failure
// never aborts delivery to the others.
//
// When selfID is non-blank the envelope is re-attributed per target instead
// of skipping the sender: the sender's own session sees sender "You", every
// other session sees "Other". A pre-set attribution (for example "AI") is
// delivered unchanged.
func (b *Broadcaster) Broadcast(ctx context.Context, targets []string, env message.Broadcast, selfID string) []Delivery {
	if b == nil || b.sender == nil {
		return nil
	}

	deliveries := make([]Delivery, 0, len(targets))
	for _, target := range targets {
		personalized := env
		if strings.TrimSpace(selfID) != "" && env.Sender == "" {
			if target == selfID {
				personalized.Sender = message.SenderSelf
			} else {
				personalized.Sender = message.SenderOther
			}
		}
		deliveries = append(deliveries, b.deliver(ctx, target, personalized))
	}
	return deliveries
}

// Unicast delivers env to a single session, for acknowledgments.
func (b *Broadcaster) Unicast(ctx context.Context, sessionID string, env message.Broadcast) error {
	if b == nil || b.sender == nil {
		return fmt.Errorf("broadcaster is not configured")
	}
	delivery := b.deliver(ctx, sessionID, env)
	if delivery.Outcome == Delivered {
		return nil
	}
	if delivery.Err != nil {
		return fmt.Errorf("deliver to session %s: %w", sessionID, delivery.Err)
	}
	return fmt.Errorf("deliver to session %s: %s", sessionID, delivery.Outcome)
}

func (b *Broadcaster) deliver(ctx context.Context, sessionID string, env message.Broadcast) Delivery {
	payload, err := json.Marshal(env)
	if err != nil {
		return Delivery{SessionID: sessionID, Outcome: TransportError, Err: fmt.Errorf("marshal envelope: %w", err)}
	}

	outcome, err := b.sender.Send(ctx, sessionID, payload)
	if outcome == PeerGone {
		b.reaper.Reap(ctx, sessionID)
	}
	if err != nil && outcome == Delivered {
		// A sender must not report success alongside an error; treat it as
		// transient.
		outcome = TransportError
	}
	return Delivery{SessionID: sessionID, Outcome: outcome, Err: err}
}
