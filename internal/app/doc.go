// Package app composes the application services once at startup.
//
// Responsibilities:
// - Build the client runtime: identity, conversations, messages, privacy
//   score, Anyone status and profiles, bound to one another explicitly.
// - Build the server runtime: remote store, uploads, the Anyone session
//   manager and the HTTP surface.
//
// Non-responsibilities:
// - HTTP routing and request mapping (internal/api).
package app
