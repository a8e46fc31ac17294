// Package progressbus implements the per-analysis ordered broadcast channel
// spec §4.6 describes: one writer (the orchestrator), many independent
// readers, FIFO per analysis_id, at-least-once delivery, and a bounded
// backlog per subscriber so a slow consumer never blocks the orchestrator.
package progressbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventKind enumerates the event kinds spec §4.6 names.
type EventKind string

const (
	AnalysisStarted  EventKind = "analysis_started"
	PhaseStarted     EventKind = "phase_started"
	AgentStarted     EventKind = "agent_started"
	AgentCompleted   EventKind = "agent_completed"
	AgentFailed      EventKind = "agent_failed"
	ProgressUpdate   EventKind = "progress_update"
	SynthesisStarted EventKind = "synthesis_started"
	CritiqueStarted  EventKind = "critique_started"
	AnalysisComplete EventKind = "analysis_completed"
	AnalysisFailed   EventKind = "analysis_failed"
	DriftAlertEvent  EventKind = "drift_alert"
)

// Event is one frame on the bus. Payload carries kind-specific fields; the
// wire representation (spec §6) flattens Payload alongside the envelope
// fields when serialized by the API layer.
type Event struct {
	Kind       EventKind              `json:"type"`
	AnalysisID string                 `json:"analysis_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// DefaultBacklog is the bounded per-subscriber queue depth spec §4.6 names.
const DefaultBacklog = 1024

// Subscription is a single reader's view of one analysis's event stream.
type Subscription struct {
	ch         chan Event
	bus        *Bus
	analysisID string
	id         uint64
}

// Events returns the channel to range over. It is closed when Unsubscribe
// is called or the bus is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.analysisID, s.id)
}

type topic struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    map[uint64]chan Event
	nextSub uint64
}

// Bus is the in-process implementation of ProgressBus. An optional Relay
// (e.g. NATS-backed, see internal/bus) can be attached via SetRelay so
// events also fan out to other API replicas.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	relay  Relay
	closed bool
}

// Relay is the narrow interface a cross-process transport implements so
// Bus can publish beyond the local process without depending on it.
type Relay interface {
	Publish(ctx context.Context, event Event) error
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

// SetRelay attaches a Relay used in addition to local fanout.
func (b *Bus) SetRelay(r Relay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = r
}

func (b *Bus) topicFor(analysisID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[analysisID]
	if !ok {
		t = &topic{subs: make(map[uint64]chan Event)}
		b.topics[analysisID] = t
	}
	return t
}

// Subscribe joins analysisID's stream. Per spec §4.6, a subscriber that
// joins mid-run only receives events from this point onward.
func (b *Bus) Subscribe(analysisID string) *Subscription {
	t := b.topicFor(analysisID)
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, DefaultBacklog)
	t.subs[id] = ch

	return &Subscription{ch: ch, bus: b, analysisID: analysisID, id: id}
}

func (b *Bus) unsubscribe(analysisID string, id uint64) {
	b.mu.Lock()
	t, ok := b.topics[analysisID]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

// Publish broadcasts event to every current subscriber of event.AnalysisID
// in FIFO order, assigning it the next sequence number for that analysis.
// A subscriber whose backlog is full is dropped rather than blocking the
// publisher (spec §4.6: "the orchestrator is not blocked by slow
// consumers").
func (b *Bus) Publish(ctx context.Context, event Event) {
	t := b.topicFor(event.AnalysisID)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.Lock()
	event.Seq = t.nextSeq
	t.nextSeq++
	dropped := make([]uint64, 0)
	for id, ch := range t.subs {
		select {
		case ch <- event:
		default:
			dropped = append(dropped, id)
		}
	}
	for _, id := range dropped {
		if ch, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	t.mu.Unlock()

	if len(dropped) > 0 {
		log.Warn().
			Str("analysis_id", event.AnalysisID).
			Int("dropped_subscribers", len(dropped)).
			Msg("progressbus: subscriber backlog exceeded, dropped")
	}

	if b.relay != nil {
		if err := b.relay.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Str("analysis_id", event.AnalysisID).Msg("progressbus: relay publish failed")
		}
	}
}

// CloseTopic releases all subscribers of analysisID and forgets its topic.
// The orchestrator does not call it; a topic stays open after its analysis
// ends until CloseTopic is called.
func (b *Bus) CloseTopic(analysisID string) {
	b.mu.Lock()
	t, ok := b.topics[analysisID]
	delete(b.topics, analysisID)
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}
