package domain

// ModuleType distinguishes daily learning material from the final assessment.
type ModuleType string

const (
	ModuleDailyMaterial ModuleType = "daily_material"
	ModulePostTest      ModuleType = "post_test"
)

// Question is a single multiple-choice quiz question. Options are ordered and
// contain no blank entries; Answer matches exactly one option verbatim.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// Module is a content module as seen by a session: catalog fields from the
// content source overlaid with the user's stored progress. Quiz content is
// re-derived from the content source on every load and never persisted.
type Module struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Day         int        `json:"day"`
	Type        ModuleType `json:"type"`
	IsActive    bool       `json:"isActive"`
	Material    string     `json:"material"`
	Quiz        []Question `json:"quiz,omitempty"`
	Progress    int        `json:"progress"`
	Completed   bool       `json:"completed"`
	Score       *int       `json:"score"`
	QuizTaken   bool       `json:"quizTaken"`
}

// IsPostTest reports whether the module is the final assessment; post-test
// modules are complete/incomplete only, progress percentages do not apply.
func (m Module) IsPostTest() bool {
	return m.Type == ModulePostTest
}

// StoredModule is the persisted form of a Module. It carries no quiz content,
// and optional fields serialize as explicit nulls (never omitted) because the
// profile store's merge-write treats an omitted field as "no change".
type StoredModule struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Day         int        `json:"day"`
	Type        ModuleType `json:"type"`
	IsActive    bool       `json:"isActive"`
	Material    string     `json:"material"`
	Progress    int        `json:"progress"`
	Completed   bool       `json:"completed"`
	Score       *int       `json:"score"`
	QuizTaken   bool       `json:"quizTaken"`
}

// ScoreEntry records one quiz outcome. Entries are append-only and immutable
// once written.
type ScoreEntry struct {
	ModuleTitle string `json:"module"`
	Score       int    `json:"score"`
	Percentage  int    `json:"percentage"`
	Total       int    `json:"total"`
	Date        string `json:"date"` // ISO date, YYYY-MM-DD
}

// UserProfile is the per-user document held by the profile store. One owner
// per document; created on first session if absent.
type UserProfile struct {
	Name       string         `json:"name"`
	ExternalID string         `json:"externalId"`
	Modules    []StoredModule `json:"modules"`
	Scores     []ScoreEntry   `json:"scores"`
}

// HasIdentity reports whether the profile carries a completed login.
func (p UserProfile) HasIdentity() bool {
	return p.Name != "" && p.ExternalID != ""
}
