// Package artifact contains implementations of core.ArtifactStore, the store
// that keeps a copy of every asset the relay downloaded and delivered.
//
// The interface lives in the core package so the engine can depend on it
// without importing concrete stores.
package artifact
