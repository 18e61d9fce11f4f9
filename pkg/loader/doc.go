// Package loader discovers the CUE instances of a module.
//
// The module root is the nearest ancestor directory containing cue.mod,
// unless CUEBRIDGE_MODULE_ROOT names one. Discovery runs load.Instances once
// with the pattern "." or "./..."; instance paths are reported relative to
// the module root, "." being the root itself.
package loader
