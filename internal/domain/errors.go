package domain

import "errors"

var (
	// ErrEndpointNotConfigured indicates the content source URL is unset; fatal, nothing can load.
	ErrEndpointNotConfigured = errors.New("content source endpoint not configured")
	// ErrContentUnavailable indicates the content source was unreachable or returned malformed data.
	ErrContentUnavailable = errors.New("content source unavailable")
	// ErrModuleNotFound indicates an unknown module ID.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleLocked is returned when the access policy denies an operation on a module.
	ErrModuleLocked = errors.New("module not accessible")
	// ErrQuizEmpty is returned when a module without quiz questions is submitted;
	// such modules cannot produce a completion transition.
	ErrQuizEmpty = errors.New("module has no quiz questions")
	// ErrNotAdmin guards the module activation toggle.
	ErrNotAdmin = errors.New("operation requires admin")
	// ErrIdentityRequired is returned when a login is attempted with blank fields.
	ErrIdentityRequired = errors.New("name and external id are required")
)
