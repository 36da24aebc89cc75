package ports

import (
	"context"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
)

// MetadataSource yields the station's current static metadata.
type MetadataSource interface {
	Load(ctx context.Context) (*domain.StationMetadata, error)
}

// Sampler produces one telemetry reading per call. It returns ErrNoSample
// when nothing can be read right now.
type Sampler interface {
	Sample(ctx context.Context) (string, error)
}
