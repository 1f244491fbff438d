package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"sdm-elearning-service/internal/domain"
)

// Session is the state owner for one user: the module list with its lifecycle
// state, the score history, and the synchronization flags. All mutation goes
// through its methods; there is no ambient shared state.
type Session struct {
	service *LearningService
	userID  string

	mu          sync.RWMutex
	modules     []domain.Module
	scores      []domain.ScoreEntry
	profile     domain.UserProfile
	loggedIn    bool
	admin       bool
	adminMode   bool
	contentErr  error
	syncReady   bool
	cancelStore func()
	subscribers map[chan SessionView]struct{}
}

// ModuleView pairs a module with its recomputed access verdict.
type ModuleView struct {
	domain.Module
	Access domain.Access `json:"access"`
}

// SessionView is a full snapshot of the session, pushed to subscribers after
// every change; consumers replace their local view wholesale (last value wins).
type SessionView struct {
	UserID            string              `json:"userId"`
	Name              string              `json:"name"`
	ExternalID        string              `json:"externalId"`
	Modules           []ModuleView        `json:"modules"`
	Scores            []domain.ScoreEntry `json:"scores"`
	LoggedIn          bool                `json:"loggedIn"`
	Admin             bool                `json:"admin"`
	AdminMode         bool                `json:"adminMode"`
	AllCompleted      bool                `json:"allCompleted"`
	AllDailyCompleted bool                `json:"allDailyCompleted"`
	ContentError      string              `json:"contentError,omitempty"`
}

func newSession(service *LearningService, userID string) *Session {
	return &Session{
		service:     service,
		userID:      userID,
		subscribers: make(map[chan SessionView]struct{}),
	}
}

// UserID returns the identity key the session is bound to.
func (s *Session) UserID() string {
	return s.userID
}

// Login merge-writes the user's identity into the profile document and marks
// the session logged in. Admin rights attach iff the external ID matches the
// configured admin ID.
func (s *Session) Login(ctx context.Context, name, externalID string) error {
	if name == "" || externalID == "" {
		return domain.ErrIdentityRequired
	}

	s.mu.Lock()
	s.profile.Name = name
	s.profile.ExternalID = externalID
	s.loggedIn = true
	s.admin = externalID == s.service.adminID
	syncReady := s.syncReady
	s.mu.Unlock()
	s.broadcast()

	if syncReady {
		if err := s.service.store.SaveIdentity(ctx, s.userID, name, externalID); err != nil {
			log.Printf("identity write failed for %s: %v", s.userID, err)
		}
	}
	return nil
}

// OpenModule returns the module with its material iff the access policy allows
// it; viewing is the implicit in-progress state and is never persisted.
func (s *Session) OpenModule(moduleID string) (domain.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.findLocked(moduleID)
	if idx < 0 {
		return domain.Module{}, domain.ErrModuleNotFound
	}
	m := s.modules[idx]
	if access := domain.EvaluateAccess(m, s.adminMode); !access.Accessible {
		return domain.Module{}, domain.ErrModuleLocked
	}
	return m, nil
}

// SubmitQuiz scores the submitted answers and drives the completion
// transition: progress 100, completed, score recorded, quiz marked taken.
// Retakes overwrite the score and append a fresh history entry but never
// revert completion. The updated state is applied optimistically, then
// persisted and exported best-effort; store or export failures are logged
// only, never surfaced and never retried.
func (s *Session) SubmitQuiz(ctx context.Context, moduleID string, answers map[int]string) (domain.QuizResult, error) {
	s.mu.Lock()
	idx := s.findLocked(moduleID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.QuizResult{}, domain.ErrModuleNotFound
	}
	module := s.modules[idx]
	if access := domain.EvaluateAccess(module, s.adminMode); !access.Accessible {
		s.mu.Unlock()
		return domain.QuizResult{}, domain.ErrModuleLocked
	}
	if len(module.Quiz) == 0 {
		// No questions means no completion transition, ever.
		s.mu.Unlock()
		return domain.QuizResult{}, domain.ErrQuizEmpty
	}

	result := domain.ScoreQuiz(module.Quiz, answers)
	score := result.Correct
	s.modules[idx].Progress = 100
	s.modules[idx].Completed = true
	s.modules[idx].Score = &score
	s.modules[idx].QuizTaken = true

	entry := domain.ScoreEntry{
		ModuleTitle: module.Title,
		Score:       result.Correct,
		Percentage:  result.Percentage,
		Total:       result.Total,
		Date:        s.service.now().Format("2006-01-02"),
	}
	s.scores = append(s.scores, entry)

	sanitized := domain.SanitizeModules(s.modules)
	profile := s.profile
	syncReady := s.syncReady
	s.mu.Unlock()
	s.broadcast()

	if syncReady {
		if err := s.service.store.SaveModules(ctx, s.userID, sanitized); err != nil {
			log.Printf("progress write failed for %s: %v", s.userID, err)
		}
		if err := s.service.store.AppendScore(ctx, s.userID, entry); err != nil {
			log.Printf("score write failed for %s: %v", s.userID, err)
		}
	}
	if profile.HasIdentity() {
		if err := s.service.content.ExportScore(ctx, profile, entry); err != nil {
			log.Printf("score export failed for %s: %v", s.userID, err)
		}
	}
	return result, nil
}

// SetModuleActive flips a module's activation flag, admin only. The change is
// applied optimistically and sent to the content source; a transport failure
// restores the pre-toggle module list verbatim.
func (s *Session) SetModuleActive(ctx context.Context, moduleID string, active bool) error {
	s.mu.RLock()
	admin := s.admin
	exists := s.findLocked(moduleID) >= 0
	s.mu.RUnlock()
	if !admin {
		return domain.ErrNotAdmin
	}
	if !exists {
		return domain.ErrModuleNotFound
	}

	err := s.applyOptimistic(func(modules []domain.Module) {
		if idx := findModule(modules, moduleID); idx >= 0 {
			modules[idx].IsActive = active
		}
	}, func() error {
		return s.service.content.UpdateModuleStatus(ctx, moduleID, active)
	})
	if err != nil {
		return fmt.Errorf("update module status: %w", err)
	}
	return nil
}

// applyOptimistic is the two-phase toggle helper: snapshot the module list,
// apply the tentative mutation, attempt the remote write, and restore the
// snapshot if the write fails.
func (s *Session) applyOptimistic(mutate func(modules []domain.Module), commit func() error) error {
	s.mu.Lock()
	snapshot := cloneModules(s.modules)
	mutate(s.modules)
	s.mu.Unlock()
	s.broadcast()

	if err := commit(); err != nil {
		s.mu.Lock()
		s.modules = snapshot
		s.mu.Unlock()
		s.broadcast()
		return err
	}
	return nil
}

// SetAdminMode toggles the admin view for this session only; it is not
// persisted and does not touch activation flags.
func (s *Session) SetAdminMode(enabled bool) error {
	s.mu.Lock()
	if !s.admin {
		s.mu.Unlock()
		return domain.ErrNotAdmin
	}
	s.adminMode = enabled
	s.mu.Unlock()
	s.broadcast()
	return nil
}

// View builds a full snapshot of the session state with access verdicts
// recomputed for every module.
func (s *Session) View() SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

// Subscribe returns a channel of session snapshots, starting with the current
// one. The caller must invoke the cancel function to avoid leaks.
func (s *Session) Subscribe() (<-chan SessionView, func()) {
	ch := make(chan SessionView, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	initial := s.viewLocked()
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the session down and cancels the store subscription.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancelStore
	s.cancelStore = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// pumpSnapshots applies remote profile changes for as long as the store
// subscription lives; the store is the source of truth after initial load.
func (s *Session) pumpSnapshots(snapshots <-chan ProfileSnapshot) {
	for snap := range snapshots {
		if snap.Exists {
			s.applySnapshot(snap.Profile)
		}
	}
}

// applySnapshot overwrites local profile and score state from a store
// delivery and overlays stored module progress onto the fetched catalog.
// Activation flags and quiz content always come from the content source, never
// from the stored copy.
func (s *Session) applySnapshot(profile domain.UserProfile) {
	s.mu.Lock()
	if len(profile.Scores) < len(s.scores) {
		// Scores are append-only, so a delivery carrying fewer entries than
		// we hold locally predates our latest write; discard it.
		s.mu.Unlock()
		return
	}
	s.profile = profile
	s.scores = profile.Scores
	if profile.HasIdentity() {
		s.loggedIn = true
		s.admin = profile.ExternalID == s.service.adminID
	}
	stored := make(map[string]domain.StoredModule, len(profile.Modules))
	for _, sm := range profile.Modules {
		stored[sm.ID] = sm
	}
	for i := range s.modules {
		if sm, ok := stored[s.modules[i].ID]; ok {
			s.modules[i].Progress = sm.Progress
			s.modules[i].Completed = sm.Completed
			s.modules[i].Score = sm.Score
			s.modules[i].QuizTaken = sm.QuizTaken
		}
	}
	s.mu.Unlock()
	s.broadcast()
}

func (s *Session) sanitizedModules() []domain.StoredModule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.SanitizeModules(s.modules)
}

func (s *Session) viewLocked() SessionView {
	views := make([]ModuleView, 0, len(s.modules))
	allCompleted := len(s.modules) > 0
	dailyTotal, dailyDone := 0, 0
	for _, m := range s.modules {
		views = append(views, ModuleView{Module: m, Access: domain.EvaluateAccess(m, s.adminMode)})
		if !m.Completed {
			allCompleted = false
		}
		if m.Type == domain.ModuleDailyMaterial {
			dailyTotal++
			if m.Completed {
				dailyDone++
			}
		}
	}

	contentErr := ""
	if s.contentErr != nil {
		contentErr = s.contentErr.Error()
	}
	return SessionView{
		UserID:            s.userID,
		Name:              s.profile.Name,
		ExternalID:        s.profile.ExternalID,
		Modules:           views,
		Scores:            s.scores,
		LoggedIn:          s.loggedIn,
		Admin:             s.admin,
		AdminMode:         s.adminMode,
		AllCompleted:      allCompleted,
		AllDailyCompleted: dailyTotal > 0 && dailyDone == dailyTotal,
		ContentError:      contentErr,
	}
}

func (s *Session) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.viewLocked()
	for ch := range s.subscribers {
		select {
		case ch <- view:
		default:
			// Drop the stale snapshot so a slow consumer never blocks the
			// session; only the latest view matters.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

func (s *Session) findLocked(moduleID string) int {
	return findModule(s.modules, moduleID)
}

func findModule(modules []domain.Module, moduleID string) int {
	for i := range modules {
		if modules[i].ID == moduleID {
			return i
		}
	}
	return -1
}

func cloneModules(modules []domain.Module) []domain.Module {
	out := make([]domain.Module, len(modules))
	copy(out, modules)
	for i := range out {
		if out[i].Score != nil {
			v := *out[i].Score
			out[i].Score = &v
		}
		if out[i].Quiz != nil {
			out[i].Quiz = append([]domain.Question(nil), out[i].Quiz...)
		}
	}
	return out
}
