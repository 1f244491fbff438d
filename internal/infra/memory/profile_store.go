package memory

import (
	"context"
	"sync"

	"sdm-elearning-service/internal/app"
	"sdm-elearning-service/internal/domain"
)

// ProfileStore is an in-memory implementation of app.ProfileStore, used in
// tests and single-process demo runs. Writes are merges: only the fields a
// call carries are touched, and scores are append-only.
type ProfileStore struct {
	mu          sync.RWMutex
	profiles    map[string]domain.UserProfile
	subscribers map[string]map[chan app.ProfileSnapshot]struct{}
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles:    make(map[string]domain.UserProfile),
		subscribers: make(map[string]map[chan app.ProfileSnapshot]struct{}),
	}
}

// Load returns the stored document and whether it exists.
func (s *ProfileStore) Load(_ context.Context, userID string) (domain.UserProfile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	return copyProfile(profile), ok, nil
}

func (s *ProfileStore) SaveIdentity(_ context.Context, userID, name, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.profiles[userID]
	profile.Name = name
	profile.ExternalID = externalID
	s.profiles[userID] = profile
	s.broadcastLocked(userID)
	return nil
}

func (s *ProfileStore) SaveModules(_ context.Context, userID string, modules []domain.StoredModule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.profiles[userID]
	profile.Modules = append([]domain.StoredModule(nil), modules...)
	s.profiles[userID] = profile
	s.broadcastLocked(userID)
	return nil
}

func (s *ProfileStore) AppendScore(_ context.Context, userID string, entry domain.ScoreEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile := s.profiles[userID]
	profile.Scores = append(profile.Scores, entry)
	s.profiles[userID] = profile
	s.broadcastLocked(userID)
	return nil
}

// Subscribe delivers the current document state immediately, then one
// snapshot per write to the same document.
func (s *ProfileStore) Subscribe(_ context.Context, userID string) (<-chan app.ProfileSnapshot, func(), error) {
	ch := make(chan app.ProfileSnapshot, 8)

	s.mu.Lock()
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[chan app.ProfileSnapshot]struct{})
	}
	s.subscribers[userID][ch] = struct{}{}
	profile, exists := s.profiles[userID]
	s.mu.Unlock()

	ch <- app.ProfileSnapshot{Profile: copyProfile(profile), Exists: exists}

	cancel := func() {
		s.mu.Lock()
		if subs, ok := s.subscribers[userID]; ok {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *ProfileStore) broadcastLocked(userID string) {
	profile := s.profiles[userID]
	for ch := range s.subscribers[userID] {
		snap := app.ProfileSnapshot{Profile: copyProfile(profile), Exists: true}
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot; only the latest document matters.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func copyProfile(p domain.UserProfile) domain.UserProfile {
	out := p
	out.Modules = append([]domain.StoredModule(nil), p.Modules...)
	out.Scores = append([]domain.ScoreEntry(nil), p.Scores...)
	return out
}
