// Package memory provides in-process implementations of the storage interfaces.
// They back unit tests and single-process development runs; every store is safe
// for concurrent use and returns copies so callers cannot mutate stored state.
package memory
