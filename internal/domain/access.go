package domain

// Access is the policy verdict for one module: whether it may be opened and
// the action label the caller should show.
type Access struct {
	Accessible bool   `json:"accessible"`
	Label      string `json:"label"`
}

// EvaluateAccess decides whether a module is viewable. Total and side-effect
// free; accessibility is recomputed on every evaluation, never cached.
// Admin mode bypasses the activation flag.
func EvaluateAccess(m Module, adminMode bool) Access {
	if adminMode {
		return Access{Accessible: true, Label: "view (admin)"}
	}
	if !m.IsActive {
		return Access{Accessible: false, Label: "not yet active"}
	}
	if m.Type == ModulePostTest {
		return Access{Accessible: true, Label: "start post-test"}
	}
	return Access{Accessible: true, Label: "view module"}
}
