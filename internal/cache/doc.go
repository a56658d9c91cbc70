// Package cache implements the two-level entity cache at the core of
// perch: an active index serving the currently selected repository and
// a multi-scope archive that keeps every repository ever fetched, so
// switching scopes is instant and offline reads always have something
// to show.
//
// One Store exists per entity kind (pull requests, issues, labels).
// Stores are write-through: every fetch merge and local mutation
// updates both levels under one lock, then hands a snapshot to the
// configured Saver for debounced durable persistence. Remote fetches
// are single-flight per scope, so workspace sync can fan out across
// repositories while no archive entry ever has two writers, and a
// generation counter discards fetch results that raced a Clear or
// Hydrate.
package cache
