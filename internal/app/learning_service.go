package app

import (
	"context"
	"log"
	"time"

	"sdm-elearning-service/internal/domain"
)

// ContentSource abstracts the spreadsheet-backed endpoint: catalog reads plus
// the two fire-and-forget writes (score export, activation toggle).
type ContentSource interface {
	FetchCatalog(ctx context.Context) ([]domain.Module, error)
	ExportScore(ctx context.Context, profile domain.UserProfile, entry domain.ScoreEntry) error
	UpdateModuleStatus(ctx context.Context, moduleID string, active bool) error
}

// ProfileSnapshot is one delivery from a profile-document subscription. The
// first snapshot reports whether the document exists at all; every later one
// carries the full document after a remote change.
type ProfileSnapshot struct {
	Profile domain.UserProfile
	Exists  bool
}

// ProfileStore abstracts how user profiles are persisted (in-memory, Redis,
// Postgres). Writes are merges at document granularity: fields not written are
// left untouched, and the scores list is an append-only union.
type ProfileStore interface {
	SaveIdentity(ctx context.Context, userID, name, externalID string) error
	SaveModules(ctx context.Context, userID string, modules []domain.StoredModule) error
	AppendScore(ctx context.Context, userID string, entry domain.ScoreEntry) error
	// Subscribe yields the current document state immediately, then one
	// snapshot per change. The caller must invoke cancel to avoid leaks.
	Subscribe(ctx context.Context, userID string) (<-chan ProfileSnapshot, func(), error)
}

// LearningService owns the e-learning use cases and creates per-user sessions.
type LearningService struct {
	store    ProfileStore
	content  ContentSource
	adminID  string
	fallback []domain.Module
	now      func() time.Time
}

// Options tune a LearningService beyond its two collaborators.
type Options struct {
	// AdminExternalID designates the one user whose login unlocks the
	// module-activation workflow.
	AdminExternalID string
	// Fallback is served when the content source is unreachable so the client
	// stays navigable; profile synchronization is suppressed for the session.
	Fallback []domain.Module
	// Now is test-only, for deterministic score dates.
	Now func() time.Time
}

func NewLearningService(store ProfileStore, content ContentSource, opts Options) *LearningService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &LearningService{
		store:    store,
		content:  content,
		adminID:  opts.AdminExternalID,
		fallback: opts.Fallback,
		now:      now,
	}
}

// StartSession boots one user's session: fetch the catalog, subscribe to the
// profile document, and seed the initial snapshot if the subscription confirms
// the document is absent. The initial write is never issued before that
// confirmation, so an existing profile can never be clobbered by a blank one.
func (s *LearningService) StartSession(ctx context.Context, userID string) (*Session, error) {
	session := newSession(s, userID)

	catalog, err := s.content.FetchCatalog(ctx)
	if err != nil {
		log.Printf("catalog fetch failed, serving fallback: %v", err)
		session.mu.Lock()
		session.modules = cloneModules(s.fallback)
		session.contentErr = err
		session.mu.Unlock()
		// FetchFailure suppresses all store synchronization for this session.
		return session, nil
	}
	session.mu.Lock()
	session.modules = cloneModules(catalog)
	session.mu.Unlock()

	snapshots, cancel, err := s.store.Subscribe(ctx, userID)
	if err != nil {
		// Subscription failure is logged, not surfaced; the session stays
		// usable without persistence rather than wedging the caller.
		log.Printf("profile subscription failed for %s: %v", userID, err)
		return session, nil
	}
	session.mu.Lock()
	session.cancelStore = cancel
	session.syncReady = true
	session.mu.Unlock()

	if first, ok := <-snapshots; ok {
		if first.Exists {
			session.applySnapshot(first.Profile)
		} else if err := s.store.SaveModules(ctx, userID, session.sanitizedModules()); err != nil {
			log.Printf("initial profile write failed for %s: %v", userID, err)
		}
	}
	go session.pumpSnapshots(snapshots)

	return session, nil
}
