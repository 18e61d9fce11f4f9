// Package watch re-runs work when CUE sources below a module root change.
//
// Events are debounced so that an editor saving several files, or writing
// one file in several steps, produces a single callback.
package watch
