package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sdm-elearning-service/internal/app"
	"sdm-elearning-service/internal/domain"
)

// ProfileStore keeps one JSONB document per (namespace, userID) in Postgres.
// Notes:
//   - Merges happen server-side with jsonb concatenation, so concurrent
//     writers of different fields do not clobber each other.
//   - Change delivery is in-process only: each write re-reads the document
//     and broadcasts to local subscribers. Cross-instance delivery would need
//     a LISTEN/NOTIFY projector on top.
type ProfileStore struct {
	pool      *pgxpool.Pool
	namespace string

	mu          sync.Mutex
	subscribers map[string]map[chan app.ProfileSnapshot]struct{}
}

func NewProfileStore(pool *pgxpool.Pool, namespace string) *ProfileStore {
	if namespace == "" {
		namespace = "elearning"
	}
	return &ProfileStore{
		pool:        pool,
		namespace:   namespace,
		subscribers: make(map[string]map[chan app.ProfileSnapshot]struct{}),
	}
}

// Load reads the full document for a user.
func (s *ProfileStore) Load(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM user_profiles WHERE namespace=$1 AND user_id=$2`,
		s.namespace, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{}, false, nil
		}
		return domain.UserProfile{}, false, fmt.Errorf("load profile: %w", err)
	}
	var profile domain.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("unmarshal profile: %w", err)
	}
	return profile, true, nil
}

func (s *ProfileStore) SaveIdentity(ctx context.Context, userID, name, externalID string) error {
	patch, err := json.Marshal(map[string]string{"name": name, "externalId": externalID})
	if err != nil {
		return err
	}
	return s.merge(ctx, userID, patch)
}

func (s *ProfileStore) SaveModules(ctx context.Context, userID string, modules []domain.StoredModule) error {
	patch, err := json.Marshal(map[string]any{"modules": modules})
	if err != nil {
		return err
	}
	return s.merge(ctx, userID, patch)
}

func (s *ProfileStore) AppendScore(ctx context.Context, userID string, entry domain.ScoreEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_profiles (namespace, user_id, data)
		VALUES ($1, $2, jsonb_build_object('scores', jsonb_build_array($3::jsonb)))
		ON CONFLICT (namespace, user_id) DO UPDATE SET
			data = jsonb_set(user_profiles.data, '{scores}',
				coalesce(user_profiles.data->'scores', '[]'::jsonb) || $3::jsonb),
			updated_at = now()`,
		s.namespace, userID, string(data))
	if err != nil {
		return fmt.Errorf("append score: %w", err)
	}
	s.notify(ctx, userID)
	return nil
}

// Subscribe delivers the current document state immediately, then a snapshot
// after every write issued through this store instance.
func (s *ProfileStore) Subscribe(ctx context.Context, userID string) (<-chan app.ProfileSnapshot, func(), error) {
	profile, exists, err := s.Load(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan app.ProfileSnapshot, 8)

	s.mu.Lock()
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[chan app.ProfileSnapshot]struct{})
	}
	s.subscribers[userID][ch] = struct{}{}
	s.mu.Unlock()

	ch <- app.ProfileSnapshot{Profile: profile, Exists: exists}

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

func (s *ProfileStore) merge(ctx context.Context, userID string, patch []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_profiles (namespace, user_id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (namespace, user_id) DO UPDATE SET
			data = user_profiles.data || EXCLUDED.data,
			updated_at = now()`,
		s.namespace, userID, string(patch))
	if err != nil {
		return fmt.Errorf("merge profile: %w", err)
	}
	s.notify(ctx, userID)
	return nil
}

func (s *ProfileStore) notify(ctx context.Context, userID string) {
	s.mu.Lock()
	subs := s.subscribers[userID]
	if len(subs) == 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	profile, exists, err := s.Load(ctx, userID)
	if err != nil {
		log.Printf("profile reload after write failed for %s: %v", userID, err)
		return
	}
	snap := app.ProfileSnapshot{Profile: profile, Exists: exists}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers[userID] {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
