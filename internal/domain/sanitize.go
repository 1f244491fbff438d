package domain

// SanitizeModules converts modules into their persisted form before any
// profile-store write: quiz content is stripped (it is re-derived from the
// content source on each load) and optional fields keep explicit nulls rather
// than being omitted. Idempotent: sanitizing stored state again is a no-op.
func SanitizeModules(modules []Module) []StoredModule {
	stored := make([]StoredModule, 0, len(modules))
	for _, m := range modules {
		stored = append(stored, StoredModule{
			ID:          m.ID,
			Title:       m.Title,
			Description: m.Description,
			Day:         m.Day,
			Type:        m.Type,
			IsActive:    m.IsActive,
			Material:    m.Material,
			Progress:    m.Progress,
			Completed:   m.Completed,
			Score:       m.Score,
			QuizTaken:   m.QuizTaken,
		})
	}
	return stored
}

// RestoreModule widens a stored module back into session form; the quiz slice
// stays empty until catalog content is overlaid.
func RestoreModule(s StoredModule) Module {
	return Module{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Day:         s.Day,
		Type:        s.Type,
		IsActive:    s.IsActive,
		Material:    s.Material,
		Progress:    s.Progress,
		Completed:   s.Completed,
		Score:       s.Score,
		QuizTaken:   s.QuizTaken,
	}
}
