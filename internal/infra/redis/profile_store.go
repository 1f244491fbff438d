package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"sdm-elearning-service/internal/app"
	"sdm-elearning-service/internal/domain"
)

// ProfileStore persists profile documents in Redis, one hash per
// (namespace, userID):
//
//	HSET  {ns}:profile:{userID}         name {name} externalId {id} modules {json}
//	RPUSH {ns}:profile:{userID}:scores  {entry json}
//
// Writing only the fields a call carries gives merge semantics, and the
// scores list is an append-only union. Every write publishes on
// {ns}:profile:{userID}:events; subscribers re-read the document and deliver
// a full snapshot, so consumers never diff.
type ProfileStore struct {
	client    *redis.Client
	namespace string
}

func NewProfileStore(client *redis.Client, namespace string) *ProfileStore {
	if namespace == "" {
		namespace = "elearning"
	}
	return &ProfileStore{client: client, namespace: namespace}
}

// Load reads the full document; exists is false only when neither the hash
// nor the scores list has ever been written.
func (s *ProfileStore) Load(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.docKey(userID)).Result()
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("load profile: %w", err)
	}
	rawScores, err := s.client.LRange(ctx, s.scoresKey(userID), 0, -1).Result()
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("load scores: %w", err)
	}
	if len(fields) == 0 && len(rawScores) == 0 {
		return domain.UserProfile{}, false, nil
	}

	profile := domain.UserProfile{
		Name:       fields["name"],
		ExternalID: fields["externalId"],
	}
	if raw, ok := fields["modules"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &profile.Modules); err != nil {
			return domain.UserProfile{}, false, fmt.Errorf("unmarshal modules: %w", err)
		}
	}
	for _, raw := range rawScores {
		var entry domain.ScoreEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return domain.UserProfile{}, false, fmt.Errorf("unmarshal score: %w", err)
		}
		profile.Scores = append(profile.Scores, entry)
	}
	return profile, true, nil
}

func (s *ProfileStore) SaveIdentity(ctx context.Context, userID, name, externalID string) error {
	if err := s.client.HSet(ctx, s.docKey(userID), "name", name, "externalId", externalID).Err(); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return s.publish(ctx, userID)
}

func (s *ProfileStore) SaveModules(ctx context.Context, userID string, modules []domain.StoredModule) error {
	data, err := json.Marshal(modules)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.docKey(userID), "modules", string(data)).Err(); err != nil {
		return fmt.Errorf("save modules: %w", err)
	}
	return s.publish(ctx, userID)
}

func (s *ProfileStore) AppendScore(ctx context.Context, userID string, entry domain.ScoreEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.scoresKey(userID), string(data)).Err(); err != nil {
		return fmt.Errorf("append score: %w", err)
	}
	return s.publish(ctx, userID)
}

// Subscribe confirms the pub/sub subscription before the initial read, so a
// write landing between the two is never missed, then re-reads the document
// on every published change.
func (s *ProfileStore) Subscribe(ctx context.Context, userID string) (<-chan app.ProfileSnapshot, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.eventsKey(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe profile: %w", err)
	}

	profile, exists, err := s.Load(ctx, userID)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	ch := make(chan app.ProfileSnapshot, 8)
	ch <- app.ProfileSnapshot{Profile: profile, Exists: exists}

	go func() {
		defer close(ch)
		for range pubsub.Channel() {
			profile, exists, err := s.Load(context.Background(), userID)
			if err != nil {
				log.Printf("profile reload after change failed for %s: %v", userID, err)
				continue
			}
			snap := app.ProfileSnapshot{Profile: profile, Exists: exists}
			select {
			case ch <- snap:
			default:
				// Keep only the latest snapshot for slow consumers.
				select {
				case <-ch:
				default:
				}
				ch <- snap
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return ch, cancel, nil
}

func (s *ProfileStore) publish(ctx context.Context, userID string) error {
	if err := s.client.Publish(ctx, s.eventsKey(userID), "updated").Err(); err != nil {
		return fmt.Errorf("publish profile change: %w", err)
	}
	return nil
}

func (s *ProfileStore) docKey(userID string) string {
	return s.namespace + ":profile:" + userID
}

func (s *ProfileStore) scoresKey(userID string) string {
	return s.docKey(userID) + ":scores"
}

func (s *ProfileStore) eventsKey(userID string) string {
	return s.docKey(userID) + ":events"
}
