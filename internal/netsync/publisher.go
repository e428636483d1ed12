package netsync

import (
	"emberfall/internal/config"
	"emberfall/internal/protocol"
)

// Publisher assembles one client's network tick: interest filtering,
// delta compression against the client's baselines, and event routing.
// Owned by the simulation goroutine.
type Publisher struct {
	cfg       config.Sync
	baselines *Baselines

	visible []View
	seen    map[string]bool
}

// NewPublisher builds a publisher with empty baselines.
func NewPublisher(cfg config.Sync) *Publisher {
	return &Publisher{
		cfg:       cfg,
		baselines: NewBaselines(),
		seen:      make(map[string]bool, 128),
	}
}

// BuildState produces the game:state payload for one client. Entities
// that left the view since the last tick lose their baseline, so they
// arrive as full records on re-entry.
func (p *Publisher) BuildState(clientID string, self View, all []View, tick uint64, lastInput uint32) protocol.GameState {
	p.visible = p.visible[:0]
	p.visible = append(p.visible, self)
	p.visible = VisibleSet(p.cfg, self.ID, self.X, self.Y, all, p.visible)

	for k := range p.seen {
		delete(p.seen, k)
	}
	records := make([]map[string]any, 0, len(p.visible))
	for _, v := range p.visible {
		p.seen[v.ID] = true
		records = append(records, p.baselines.Diff(clientID, v.ID, v.Kind, v.Snapshot))
	}

	if tracked := p.baselines.Tracked(clientID); tracked != nil {
		for id := range tracked {
			if !p.seen[id] {
				p.baselines.ForgetEntity(clientID, id)
			}
		}
	}

	return protocol.GameState{
		Tick:               tick,
		LastProcessedInput: lastInput,
		Entities:           records,
	}
}

// RouteEvents selects the buffered events this client should receive:
// all events it is involved in, all global events, and positioned
// events within the effect sync distance.
func (p *Publisher) RouteEvents(selfEntityID string, cx, cy float64, events []Event, dst []protocol.Envelope) []protocol.Envelope {
	for _, ev := range events {
		if ev.Global {
			dst = append(dst, ev.Env)
			continue
		}
		involved := false
		for _, id := range ev.Involved {
			if id == selfEntityID {
				involved = true
				break
			}
		}
		if involved || EventVisible(p.cfg, cx, cy, ev.X, ev.Y) {
			dst = append(dst, ev.Env)
		}
	}
	return dst
}

// DropClient discards a disconnected client's baselines.
func (p *Publisher) DropClient(clientID string) {
	p.baselines.DropClient(clientID)
}

// DropEntity discards a despawned entity from all baselines.
func (p *Publisher) DropEntity(entityID string) {
	p.baselines.DropEntity(entityID)
}
