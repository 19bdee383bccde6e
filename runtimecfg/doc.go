// Package runtimecfg is the registry of runtime-editable settings.
//
// Every setting is registered once at startup with a typed default, a
// category, a description and an optional validator. Overrides are
// persisted through store.ConfigValues and read on every lookup, so edits
// take effect on the next decision without a restart.
//
// # Architecture boundaries
//
// Lookups never fail because the backend is unavailable: the error is
// logged and the registered default is returned. Writes do surface backend
// failures as ErrUnavailable.
//
// # What this package must NOT do
//
//   - cache values across calls
//   - accept writes for unregistered or non-editable keys
package runtimecfg
