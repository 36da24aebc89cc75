package ports

import (
	"context"
	"time"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
)

// MetaStore persists the metadata history of stations. Each mutating call is
// its own transaction.
type MetaStore interface {
	// LatestFingerprint returns the fingerprint of the station's newest
	// record; found is false when the station has no history.
	LatestFingerprint(ctx context.Context, stationID string) (sig domain.Fingerprint, found bool, err error)
	// LatestRecordID returns the id of the station's newest record.
	LatestRecordID(ctx context.Context, stationID string) (id int64, found bool, err error)
	InsertRecord(ctx context.Context, rec *domain.MetaRecord) error
	TouchRecord(ctx context.Context, id int64, at time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// StoreConnector opens a new store session.
type StoreConnector func(ctx context.Context) (MetaStore, error)
