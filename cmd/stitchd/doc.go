// Package main hosts the stitchd entrypoint and command graph.
//
// The Cobra-based command tree covers running the merge daemon in the
// foreground, inspecting daemon status and queue contents over the HTTP API,
// and configuration scaffolding. It centralizes configuration resolution and
// API address discovery so subcommands can focus on user experience instead
// of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
