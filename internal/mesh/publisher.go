// Package mesh defines the hook through which learned facts are shared
// with peers. The transport behind the interface lives outside this
// module; the runtime only needs somewhere to publish.
package mesh

import "context"

// FactDelta is the sync payload for one learned fact.
type FactDelta struct {
	Category   string  `json:"category"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// PeerPublisher broadcasts fact deltas to mesh peers.
type PeerPublisher interface {
	PublishFact(ctx context.Context, delta FactDelta) error
}

// NoopPublisher discards every delta. Used when no mesh transport is
// attached.
type NoopPublisher struct{}

// PublishFact implements PeerPublisher.
func (NoopPublisher) PublishFact(context.Context, FactDelta) error { return nil }
