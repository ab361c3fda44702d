// Package membership resolves the current members of a trip. Trips are
// owned by another service; the ledger only reads them.
package membership

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"tripledger/internal/core"
)

// Resolver returns the current members of a trip, or core.ErrTripNotFound.
type Resolver interface {
	GetMembers(ctx context.Context, tripID string) ([]core.Member, error)
}

// StaticResolver serves trips from memory, typically loaded from a TOML file:
//
//	[[trips]]
//	id = "lisbon-2025"
//	creator = "ana"
//
//	  [[trips.members]]
//	  user_id = "ana"
//	  name = "Ana"
type StaticResolver struct {
	mu    sync.RWMutex
	trips map[string]core.Trip
}

type tripsFile struct {
	Trips []struct {
		ID      string `toml:"id"`
		Creator string `toml:"creator"`
		Members []struct {
			UserID string `toml:"user_id"`
			Name   string `toml:"name"`
		} `toml:"members"`
	} `toml:"trips"`
}

func NewStaticResolver(trips ...core.Trip) *StaticResolver {
	r := &StaticResolver{trips: make(map[string]core.Trip, len(trips))}
	for _, t := range trips {
		r.Put(t)
	}
	return r
}

// LoadFile reads trips from a TOML file.
func LoadFile(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trips file: %w", err)
	}
	return Parse(string(data))
}

// Parse reads trips from TOML text.
func Parse(text string) (*StaticResolver, error) {
	var f tripsFile
	if _, err := toml.Decode(text, &f); err != nil {
		return nil, fmt.Errorf("decode trips: %w", err)
	}
	r := NewStaticResolver()
	for i, t := range f.Trips {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("trip %d: missing id", i+1)
		}
		trip := core.Trip{ID: id, CreatorID: t.Creator}
		for _, m := range t.Members {
			if strings.TrimSpace(m.UserID) == "" {
				return nil, fmt.Errorf("trip %s: member without user_id", id)
			}
			trip.Members = append(trip.Members, core.Member{UserID: m.UserID, Name: m.Name})
		}
		r.Put(trip)
	}
	return r, nil
}

// Put adds or replaces a trip. The creator is always a member.
func (r *StaticResolver) Put(t core.Trip) {
	if t.CreatorID != "" && !core.NewMemberSet(t.Members).Has(t.CreatorID) {
		t.Members = append([]core.Member{{UserID: t.CreatorID}}, t.Members...)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips[t.ID] = t
}

// Remove drops a member from a trip.
func (r *StaticResolver) Remove(tripID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[tripID]
	if !ok {
		return
	}
	kept := t.Members[:0:0]
	for _, m := range t.Members {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	t.Members = kept
	r.trips[tripID] = t
}

func (r *StaticResolver) GetMembers(_ context.Context, tripID string) ([]core.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTripNotFound, tripID)
	}
	return append([]core.Member(nil), t.Members...), nil
}

// Trips returns the number of known trips.
func (r *StaticResolver) Trips() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trips)
}
