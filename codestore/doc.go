// Package codestore persists the source a user writes for each problem and
// language.
//
// Records are keyed by problem identifier and hold one source text per
// language. The store is write-through: an in-memory copy always answers
// reads, and a badger database keeps the records across restarts. When the
// database cannot be opened, read or written the store logs the failure and
// keeps serving from memory; callers never see a storage error.
//
// Usage:
//
//	store := codestore.New(logger, persistence)
//	store.Put("two-sum", language.Python, source)
//	src := store.GetOrDefault("two-sum", language.Python, problem.Template)
package codestore
