// Package configs provides embedded configuration templates for amangrep.
//
// Templates are embedded at build time with //go:embed so they ship in
// every distribution, source builds included.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/amangrep/config.yaml)
//  3. Project config (.amangrep.yaml)
//  4. Environment variables (AMANGREP_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration,
// written by `amangrep init --user` to ~/.config/amangrep/config.yaml.
// It holds machine-wide settings: backend preference, cache location,
// storage limits.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration,
// written by `amangrep init` to .amangrep.yaml in the project root. It
// holds settings worth version-controlling with the project: index mode
// and thresholds, search limits, fuzzy fallback.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
