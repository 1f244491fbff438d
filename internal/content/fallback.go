package content

import "sdm-elearning-service/internal/domain"

// FallbackCatalog is the built-in module set used when the sheet endpoint is
// unreachable; it keeps the client navigable while profile synchronization is
// suppressed for the session. The fallback module carries no quiz, so it can
// never produce a completion.
func FallbackCatalog() []domain.Module {
	return []domain.Module{
		{
			ID:          "fallback-1",
			Title:       "Offline module (local)",
			Description: "Content could not be loaded from the sheet endpoint.",
			Day:         1,
			Type:        domain.ModuleDailyMaterial,
			Material:    "<h2>Local content</h2><p>Reload the page once the content source is reachable again.</p>",
		},
	}
}
