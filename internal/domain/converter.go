package domain

import "context"

// Converter turns raw artifacts into datasets on a target grid. A Converter
// belongs to one processing attempt and must be closed when it ends.
type Converter interface {
	// Convert decodes art and resamples every variable in it onto g. The
	// raw artifact is consumed.
	Convert(ctx context.Context, art RawArtifact, g *Grid) (*Dataset, error)

	// Close releases the session's scratch space.
	Close() error
}
