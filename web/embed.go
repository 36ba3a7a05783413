// Package web provides embedded static assets for the Sightline web
// interface.
package web

import "embed"

// StaticFS contains the embedded static files served by `sightline web`.
//
//go:embed static/*
var StaticFS embed.FS
