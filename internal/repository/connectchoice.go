package repository

import (
	"fmt"

	"wificonf/internal/profile"
)

// SetSelectionCandidates records the profiles considered in the latest
// network selection round. Unknown ids are ignored.
func (r *Repository) SetSelectionCandidates(ids []int) {
	r.candidates = r.candidates[:0]
	for _, id := range ids {
		if _, ok := r.profiles[id]; ok {
			r.candidates = append(r.candidates, id)
		}
	}
}

// OnConnectionSuccess records that the user picked id over every other
// candidate of the latest round: each of them now prefers id.
func (r *Repository) OnConnectionSuccess(id int, rssi int) error {
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	key := p.Key()
	now := r.clock.Now()
	var affected []string
	for _, cid := range r.candidates {
		if cid == id {
			continue
		}
		q, ok := r.profiles[cid]
		if !ok {
			continue
		}
		q = r.mutate(cid, func(q *profile.Profile) {
			q.ConnectChoice = &profile.ConnectChoice{Key: key, RSSI: rssi, Time: now}
		})
		r.markDirty(q)
		affected = append(affected, q.Key())
	}
	r.clearConnectChoice(p)
	if len(affected) > 0 {
		r.emit(EventConnectChoiceSet, p, func(e *Event) { e.Keys = affected })
		r.logger.Debug("connect choice set", "preferred", key, "affected", len(affected))
	}
	return nil
}

// ConnectChoice returns the preference recorded on id.
func (r *Repository) ConnectChoice(id int) (*profile.ConnectChoice, bool) {
	p, ok := r.profiles[id]
	if !ok || p.ConnectChoice == nil {
		return nil, false
	}
	cc := *p.ConnectChoice
	return &cc, true
}

func (r *Repository) clearConnectChoice(p *profile.Profile) {
	if p.ConnectChoice == nil {
		return
	}
	p = r.mutate(p.ID, func(q *profile.Profile) { q.ConnectChoice = nil })
	r.markDirty(p)
	r.emit(EventConnectChoiceRemoved, p, func(e *Event) { e.Keys = []string{p.Key()} })
}

// clearChoicesReferencing drops every connect choice that points at key.
func (r *Repository) clearChoicesReferencing(key string) {
	var affected []string
	for _, q := range r.sorted() {
		if q.ConnectChoice == nil || q.ConnectChoice.Key != key {
			continue
		}
		q = r.mutate(q.ID, func(q *profile.Profile) { q.ConnectChoice = nil })
		r.markDirty(q)
		affected = append(affected, q.Key())
	}
	if len(affected) > 0 {
		r.emit(EventConnectChoiceRemoved, nil, func(e *Event) {
			e.Keys = affected
			e.Reason = key
		})
	}
}
