package podgroup

import (
	"sync"
	"time"

	"github.com/cuemby/stark/pkg/events"
	"github.com/cuemby/stark/pkg/starkerr"
	"github.com/cuemby/stark/pkg/types"
)

// defaultTTL is used when Join is called with ttl <= 0 (§5's 60s default).
const defaultTTL = 60 * time.Second

// Store is the TTL-keyed membership table: groupId -> members. It
// implements pkg/sessionhub's PodGroupRouter so a podgroup:join/leave
// frame from an agent lands here directly.
type Store struct {
	broker *events.Broker

	mu     sync.Mutex
	groups map[string]*types.PodGroup
}

// NewStore creates an empty group store. broker may be nil in tests;
// production wiring always supplies the orchestrator's shared broker.
func NewStore(broker *events.Broker) *Store {
	return &Store{broker: broker, groups: make(map[string]*types.PodGroup)}
}

// Join is an idempotent upsert of podID's membership in groupID,
// satisfying PodGroupRouter. ttl <= 0 falls back to defaultTTL.
func (s *Store) Join(groupID, podID string, ttl time.Duration, metadata map[string]string) error {
	if groupID == "" || podID == "" {
		return starkerr.Invalid("Join", "groupId and podId are required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	s.mu.Lock()
	g, ok := s.groups[groupID]
	if !ok {
		g = &types.PodGroup{GroupID: groupID, Members: make(map[string]types.PodGroupMembership)}
		s.groups[groupID] = g
	}
	_, alreadyMember := g.Members[podID]
	g.Members[podID] = types.PodGroupMembership{
		PodID: podID, JoinedAt: now, LastRefreshedAt: now, TTL: ttl, Metadata: metadata,
	}
	s.mu.Unlock()

	if !alreadyMember {
		s.publish(events.EventGroupMemberJoined, groupID, podID)
	}
	return nil
}

// Refresh extends podID's membership TTL window without changing
// metadata, returning starkerr.NotFound if podID is not a current member.
func (s *Store) Refresh(groupID, podID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return starkerr.NotFound("Refresh", "group "+groupID+" does not exist")
	}
	m, ok := g.Members[podID]
	if !ok {
		return starkerr.NotFound("Refresh", "pod "+podID+" is not a member of "+groupID)
	}
	m.LastRefreshedAt = time.Now()
	g.Members[podID] = m
	return nil
}

// Leave removes podID from groupID, satisfying PodGroupRouter. Leaving a
// group you were never in is not an error (§4.9 operations are
// idempotent in spirit).
func (s *Store) Leave(groupID, podID string) error {
	s.mu.Lock()
	g, ok := s.groups[groupID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	_, wasMember := g.Members[podID]
	delete(g.Members, podID)
	empty := len(g.Members) == 0
	if empty {
		delete(s.groups, groupID)
	}
	s.mu.Unlock()

	if wasMember {
		s.publish(events.EventGroupMemberLeft, groupID, podID)
	}
	return nil
}

// List returns the currently valid member pod IDs for groupID.
func (s *Store) List(groupID string) []string {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(g.Members))
	for podID, m := range g.Members {
		if m.Valid(now) {
			ids = append(ids, podID)
		}
	}
	return ids
}

// reap deletes every expired membership across all groups and any group
// left with zero members, returning the number of memberships evicted.
// Called by Reaper on its tick.
func (s *Store) reap(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for groupID, g := range s.groups {
		for podID, m := range g.Members {
			if !m.Valid(now) {
				delete(g.Members, podID)
				evicted++
			}
		}
		if len(g.Members) == 0 {
			delete(s.groups, groupID)
		}
	}
	return evicted
}

func (s *Store) publish(eventType events.EventType, groupID, podID string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, GroupID: groupID, PodID: podID})
}
