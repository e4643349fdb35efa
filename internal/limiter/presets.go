package limiter

import (
	"sort"
	"time"
)

// Limiter categories. Each category gets its own limiter instance and key
// namespace.
const (
	CategoryAuth              = "auth"
	CategoryAPI               = "api"
	CategoryUpload            = "upload"
	CategoryPasswordReset     = "password_reset"
	CategoryEmailVerification = "email_verification"
)

// Presets returns the default per-category configurations. Auth-adjacent
// categories are deliberately tight; the general API ceiling is generous.
func Presets() map[string]Config {
	return map[string]Config{
		CategoryAuth: {
			Window:          15 * time.Minute,
			Max:             5,
			Message:         "Too many authentication attempts, please try again later.",
			StandardHeaders: true,
			LegacyHeaders:   true,
		},
		CategoryAPI: {
			Window:          15 * time.Minute,
			Max:             100,
			Message:         "Too many requests, please try again later.",
			StandardHeaders: true,
			LegacyHeaders:   true,
		},
		CategoryUpload: {
			Window:          time.Hour,
			Max:             10,
			Message:         "Upload limit reached, please try again later.",
			StandardHeaders: true,
			LegacyHeaders:   true,
		},
		CategoryPasswordReset: {
			Window:          time.Hour,
			Max:             3,
			Message:         "Too many password reset attempts, please try again later.",
			StandardHeaders: true,
			LegacyHeaders:   true,
		},
		CategoryEmailVerification: {
			Window:          time.Hour,
			Max:             5,
			Message:         "Too many verification emails requested, please try again later.",
			StandardHeaders: true,
			LegacyHeaders:   true,
		},
	}
}

// Categories returns the known category names, sorted.
func Categories() []string {
	presets := Presets()
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
