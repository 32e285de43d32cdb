// Package configs provides embedded configuration templates for shadowlogd.
//
// Templates are embedded at build time with go:embed so they ship inside
// the binary itself, independent of how it was installed.
//
// Configuration hierarchy (see internal/config.Load):
//  1. Hardcoded defaults (internal/config.NewConfig)
//  2. User config (~/.config/shadowlog/config.yaml)
//  3. Project config (.shadowlog.yaml)
//  4. Environment variables (SHADOWLOG_*)
package configs

import _ "embed"

// UserConfigTemplate is written by `shadowlogd config init` to
// ~/.config/shadowlog/config.yaml. Contains machine-wide settings: storage
// location, embedding/LLM backends, indexing tuning.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is written by `shadowlogd config init` to .shadowlog.yaml
// in an engagement directory. Contains per-engagement overrides: capture
// queueing, pattern file paths, named profiles.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
