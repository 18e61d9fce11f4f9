// Package bridge is the process boundary of cuebridge.
//
// Every call produces exactly one envelope:
//
//	{"version": "bridge/1", "ok": {...}}
//	{"version": "bridge/1", "error": {"code": "LOAD_FAILURE", "message": "...", "hint": "..."}}
//
// The absent key is omitted. Error codes are a closed set; every code but
// INVALID_INPUT is retryable. Malformed input, load failures, worker panics
// and encoding failures all come back as envelopes, never as a crash of the
// host.
//
// A request looks like:
//
//	{
//	  "moduleRoot": "/path/to/module",
//	  "options": {"recursive": true, "withMeta": true, "withReferences": true}
//	}
//
// A top-level "packageName" is still accepted; options.packageName wins
// when both are present.
//
// Serve speaks the same envelopes over newline-delimited streams, one
// request per line and one envelope per line, in order.
package bridge
