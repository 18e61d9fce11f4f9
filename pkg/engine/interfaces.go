package engine

import (
	"github.com/taskcue/cuebridge/pkg/extract"
)

// Extractor turns one materialized instance into its projection and
// metadata. Implementations run concurrently on distinct units and must
// not share mutable state.
type Extractor interface {
	Extract(u extract.Unit, opts extract.Options) (*extract.Result, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(u extract.Unit, opts extract.Options) (*extract.Result, error)

// Extract calls f.
func (f ExtractorFunc) Extract(u extract.Unit, opts extract.Options) (*extract.Result, error) {
	return f(u, opts)
}

// DefaultExtractor runs the passes of package extract.
var DefaultExtractor Extractor = ExtractorFunc(extract.Extract)
