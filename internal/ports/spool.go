package ports

import "github.com/caltek/urbanova-gcp-client/internal/domain"

type SpoolEntryID uint64

// Spool keeps relay payloads that could not be delivered until a later
// cycle confirms them.
type Spool interface {
	Append(e domain.Envelope) (SpoolEntryID, error)
	Iterate(from SpoolEntryID, fn func(id SpoolEntryID, e domain.Envelope) error) error
	Commit(upto SpoolEntryID) error
	TruncateCommitted() error
	Stats() SpoolStats
	Close() error
}

type SpoolStats struct {
	OldestUncommitted SpoolEntryID
	LatestAppended    SpoolEntryID
	SizeBytes         int64
}

// Pending is the number of appended entries not yet committed.
func (s SpoolStats) Pending() int {
	if s.LatestAppended < s.OldestUncommitted {
		return 0
	}
	return int(s.LatestAppended - s.OldestUncommitted + 1)
}
