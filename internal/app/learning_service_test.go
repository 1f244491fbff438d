package app_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"sdm-elearning-service/internal/app"
	"sdm-elearning-service/internal/domain"
	"sdm-elearning-service/internal/infra/memory"
)

func TestFirstSessionSeedsProfileAndGatesAccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfileStore()
	source := &fakeContent{catalog: sampleCatalog()}
	service := newTestService(store, source)

	session, err := service.StartSession(ctx, "u1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	defer session.Close()

	profile, exists, _ := store.Load(ctx, "u1")
	if !exists {
		t.Fatalf("first session must seed the stored profile")
	}
	if len(profile.Modules) != 4 {
		t.Fatalf("expected 4 stored modules, got %d", len(profile.Modules))
	}

	view := session.View()
	for _, m := range view.Modules {
		active := m.ID == "m1" || m.ID == "m3"
		if m.Access.Accessible != active {
			t.Fatalf("non-admin access must follow the activation flag: %s %+v", m.ID, m.Access)
		}
	}
}

func TestSubmitQuizCompletesModuleAndRecordsScore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfileStore()
	source := &fakeContent{catalog: sampleCatalog()}
	service := newTestService(store, source)

	session, _ := service.StartSession(ctx, "u1")
	defer session.Close()
	if err := session.Login(ctx, "Alice", "555"); err != nil {
		t.Fatalf("login: %v", err)
	}

	// 4 of 5 correct on the one active module.
	result, err := session.SubmitQuiz(ctx, "m1", map[int]string{0: "a", 1: "b", 2: "c", 3: "d", 4: "wrong"})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	if result.Correct != 4 || result.Total != 5 || result.Percentage != 80 {
		t.Fatalf("expected 4/5 at 80%%, got %+v", result)
	}

	view := session.View()
	for _, m := range view.Modules {
		if m.ID == "m1" {
			if !m.Completed || m.Progress != 100 || !m.QuizTaken || m.Score == nil || *m.Score != 4 {
				t.Fatalf("completion transition not applied: %+v", m.Module)
			}
		} else if m.Completed {
			t.Fatalf("only the submitted module may complete, got %+v", m.Module)
		}
	}
	if len(view.Scores) != 1 || view.Scores[0].Score != 4 || view.Scores[0].Total != 5 || view.Scores[0].Percentage != 80 {
		t.Fatalf("unexpected score history: %+v", view.Scores)
	}

	profile, _, _ := store.Load(ctx, "u1")
	if len(profile.Scores) != 1 || profile.Scores[0].Percentage != 80 {
		t.Fatalf("score entry not persisted: %+v", profile.Scores)
	}
	for _, sm := range profile.Modules {
		if sm.ID == "m1" && !sm.Completed {
			t.Fatalf("module completion not persisted: %+v", sm)
		}
	}

	exports := source.exported()
	if len(exports) != 1 || exports[0].Score != 4 {
		t.Fatalf("score must be exported to the content source, got %+v", exports)
	}
}

func TestSubmitQuizGuards(t *testing.T) {
	ctx := context.Background()
	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(memory.NewProfileStore(), source).StartSession(ctx, "u1")
	defer session.Close()

	if _, err := session.SubmitQuiz(ctx, "nope", nil); !errors.Is(err, domain.ErrModuleNotFound) {
		t.Fatalf("expected module not found, got %v", err)
	}
	if _, err := session.SubmitQuiz(ctx, "m2", nil); !errors.Is(err, domain.ErrModuleLocked) {
		t.Fatalf("inactive module must be locked, got %v", err)
	}
	if _, err := session.SubmitQuiz(ctx, "m3", nil); !errors.Is(err, domain.ErrQuizEmpty) {
		t.Fatalf("module without questions cannot complete, got %v", err)
	}
}

func TestRetakeOverwritesScoreButKeepsCompletion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfileStore()
	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(store, source).StartSession(ctx, "u1")
	defer session.Close()
	_ = session.Login(ctx, "Alice", "555")

	if _, err := session.SubmitQuiz(ctx, "m1", map[int]string{0: "a"}); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := session.SubmitQuiz(ctx, "m1", map[int]string{0: "a", 1: "b", 2: "c", 3: "d", 4: "a"}); err != nil {
		t.Fatalf("retake: %v", err)
	}

	view := session.View()
	for _, m := range view.Modules {
		if m.ID == "m1" {
			if !m.Completed {
				t.Fatalf("retake must never revert completion")
			}
			if m.Score == nil || *m.Score != 5 {
				t.Fatalf("retake must overwrite the score, got %+v", m.Score)
			}
		}
	}
	if len(view.Scores) != 2 {
		t.Fatalf("each attempt must append a history entry, got %d", len(view.Scores))
	}
}

func TestToggleRollsBackOnTransportFailure(t *testing.T) {
	ctx := context.Background()
	source := &fakeContent{catalog: sampleCatalog(), toggleErr: errors.New("apps script unreachable")}
	session, _ := newTestService(memory.NewProfileStore(), source).StartSession(ctx, "u1")
	defer session.Close()
	_ = session.Login(ctx, "Admin", adminID)

	before := session.View().Modules
	if err := session.SetModuleActive(ctx, "m2", true); err == nil {
		t.Fatalf("expected transport failure to surface")
	}
	after := session.View().Modules
	if !reflect.DeepEqual(moduleList(before), moduleList(after)) {
		t.Fatalf("rollback must restore the pre-toggle snapshot exactly:\n%+v\n%+v", before, after)
	}
}

func TestToggleAppliesAndRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(memory.NewProfileStore(), source).StartSession(ctx, "u1")
	defer session.Close()

	if err := session.SetModuleActive(ctx, "m2", true); !errors.Is(err, domain.ErrNotAdmin) {
		t.Fatalf("non-admin toggle must be rejected, got %v", err)
	}

	_ = session.Login(ctx, "Admin", adminID)
	if err := session.SetModuleActive(ctx, "m2", true); err != nil {
		t.Fatalf("admin toggle: %v", err)
	}
	for _, m := range session.View().Modules {
		if m.ID == "m2" && !m.IsActive {
			t.Fatalf("toggle must apply locally")
		}
	}
	toggles := source.toggled()
	if len(toggles) != 1 || toggles[0].moduleID != "m2" || !toggles[0].active {
		t.Fatalf("toggle must reach the content source, got %+v", toggles)
	}
}

func TestAdminModeUnlocksEverything(t *testing.T) {
	ctx := context.Background()
	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(memory.NewProfileStore(), source).StartSession(ctx, "u1")
	defer session.Close()

	if err := session.SetAdminMode(true); !errors.Is(err, domain.ErrNotAdmin) {
		t.Fatalf("admin mode is admin-only, got %v", err)
	}

	_ = session.Login(ctx, "Admin", adminID)
	if err := session.SetAdminMode(true); err != nil {
		t.Fatalf("set admin mode: %v", err)
	}
	for _, m := range session.View().Modules {
		if !m.Access.Accessible || m.Access.Label != "view (admin)" {
			t.Fatalf("admin mode must unlock every module, got %+v", m.Access)
		}
	}
}

func TestFetchFailureServesFallbackAndSuppressesSync(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfileStore()
	source := &fakeContent{fetchErr: errors.New("endpoint down")}
	service := app.NewLearningService(store, source, app.Options{
		AdminExternalID: adminID,
		Fallback:        []domain.Module{{ID: "fallback-1", Title: "Offline", Day: 1, Type: domain.ModuleDailyMaterial}},
	})

	session, err := service.StartSession(ctx, "u1")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	defer session.Close()

	view := session.View()
	if view.ContentError == "" {
		t.Fatalf("fetch failure must flip the session error flag")
	}
	if len(view.Modules) != 1 || view.Modules[0].ID != "fallback-1" {
		t.Fatalf("expected fallback catalog, got %+v", view.Modules)
	}
	if _, exists, _ := store.Load(ctx, "u1"); exists {
		t.Fatalf("profile synchronization must be suppressed after a fetch failure")
	}
}

func TestExistingProfileOverlaysStoredProgress(t *testing.T) {
	ctx := context.Background()
	store := memory.NewProfileStore()
	score := 5
	_ = store.SaveIdentity(ctx, "u1", "Alice", "555")
	_ = store.SaveModules(ctx, "u1", []domain.StoredModule{
		{ID: "m1", Title: "stale title", Progress: 100, Completed: true, Score: &score, QuizTaken: true, IsActive: false},
	})

	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(store, source).StartSession(ctx, "u1")
	defer session.Close()

	view := session.View()
	if !view.LoggedIn {
		t.Fatalf("stored identity must log the session in")
	}
	for _, m := range view.Modules {
		if m.ID != "m1" {
			continue
		}
		if !m.Completed || m.Score == nil || *m.Score != 5 {
			t.Fatalf("stored progress must overlay the fresh catalog, got %+v", m.Module)
		}
		if !m.IsActive {
			t.Fatalf("activation flags come from the content source, not the stored copy")
		}
		if len(m.Quiz) != 5 {
			t.Fatalf("quiz content must come from the fresh catalog, got %d questions", len(m.Quiz))
		}
	}
}

func TestCompletionFlags(t *testing.T) {
	ctx := context.Background()
	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(memory.NewProfileStore(), source).StartSession(ctx, "u1")
	defer session.Close()
	_ = session.Login(ctx, "Admin", adminID)
	_ = session.SetAdminMode(true)

	answers := map[int]string{0: "a", 1: "b", 2: "c", 3: "d", 4: "a"}
	for _, id := range []string{"m1", "m2"} {
		if _, err := session.SubmitQuiz(ctx, id, answers); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	// m3 has no quiz and can never complete, so the daily set stays open.
	view := session.View()
	if view.AllDailyCompleted || view.AllCompleted {
		t.Fatalf("m3 is incomplete, flags must be false: %+v", view)
	}
}

func TestSessionSubscribePushesUpdates(t *testing.T) {
	ctx := context.Background()
	source := &fakeContent{catalog: sampleCatalog()}
	session, _ := newTestService(memory.NewProfileStore(), source).StartSession(ctx, "u1")
	defer session.Close()

	updates, cancel := session.Subscribe()
	defer cancel()

	initial := <-updates
	if len(initial.Modules) != 4 {
		t.Fatalf("initial snapshot missing modules: %+v", initial)
	}

	if _, err := session.SubmitQuiz(ctx, "m1", map[int]string{0: "a"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case view := <-updates:
			for _, m := range view.Modules {
				if m.ID == "m1" && m.Completed {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for completion snapshot")
		}
	}
}

const adminID = "198404272011011010"

func newTestService(store app.ProfileStore, source app.ContentSource) *app.LearningService {
	return app.NewLearningService(store, source, app.Options{
		AdminExternalID: adminID,
		Now:             func() time.Time { return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) },
	})
}

// sampleCatalog: three daily modules (one active, one inactive, one active but
// without questions) plus an inactive post-test.
func sampleCatalog() []domain.Module {
	quiz := []domain.Question{
		{Question: "q1", Options: []string{"a", "b"}, Answer: "a"},
		{Question: "q2", Options: []string{"a", "b"}, Answer: "b"},
		{Question: "q3", Options: []string{"c", "d"}, Answer: "c"},
		{Question: "q4", Options: []string{"c", "d"}, Answer: "d"},
		{Question: "q5", Options: []string{"a", "b"}, Answer: "a"},
	}
	return []domain.Module{
		{ID: "m1", Title: "Day 1", Day: 1, Type: domain.ModuleDailyMaterial, IsActive: true, Quiz: quiz},
		{ID: "m2", Title: "Day 2", Day: 2, Type: domain.ModuleDailyMaterial, IsActive: false, Quiz: quiz},
		{ID: "m3", Title: "Day 3", Day: 3, Type: domain.ModuleDailyMaterial, IsActive: true},
		{ID: "pt", Title: "Post-Test", Day: 30, Type: domain.ModulePostTest, IsActive: false, Quiz: quiz},
	}
}

type toggle struct {
	moduleID string
	active   bool
}

type fakeContent struct {
	mu        sync.Mutex
	catalog   []domain.Module
	fetchErr  error
	toggleErr error
	exports   []domain.ScoreEntry
	toggles   []toggle
}

func (f *fakeContent) FetchCatalog(ctx context.Context) ([]domain.Module, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.catalog, nil
}

func (f *fakeContent) ExportScore(ctx context.Context, profile domain.UserProfile, entry domain.ScoreEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports = append(f.exports, entry)
	return nil
}

func (f *fakeContent) UpdateModuleStatus(ctx context.Context, moduleID string, active bool) error {
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, toggle{moduleID: moduleID, active: active})
	return nil
}

func (f *fakeContent) exported() []domain.ScoreEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ScoreEntry(nil), f.exports...)
}

func (f *fakeContent) toggled() []toggle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toggle(nil), f.toggles...)
}

func moduleList(views []app.ModuleView) []domain.Module {
	modules := make([]domain.Module, 0, len(views))
	for _, v := range views {
		modules = append(modules, v.Module)
	}
	return modules
}
