package settings

import "errors"

var (
	// ErrNotOnboarded indicates the settings document has never been saved.
	ErrNotOnboarded = errors.New("system not onboarded: settings not found")

	// ErrInvalidSettings indicates the document failed validation on save.
	ErrInvalidSettings = errors.New("invalid settings")
)
