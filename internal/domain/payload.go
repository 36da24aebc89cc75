package domain

import (
	"strconv"
	"strings"
	"time"
)

// Payload tags. The receiver tells the two message shapes apart by the
// leading field.
const (
	TagMeta = "meta"
	TagData = "data"
)

// TimestampLayout is how record timestamps travel inside meta payloads.
const TimestampLayout = "2006-01-02 15:04:05"

// MetaPayload renders
//
//	meta,<priorID>,<sig>,<stationid>,<18 sensor fields>,<timestamp>
//
// priorID is the id of the station's previous record, 0 when there was none.
func MetaPayload(priorID int64, rec *MetaRecord) string {
	parts := make([]string, 0, 5+SensorCount*3)
	parts = append(parts, TagMeta, strconv.FormatInt(priorID, 10), rec.Fingerprint.String(), rec.StationID)
	parts = append(parts, rec.Fields()...)
	parts = append(parts, rec.UpdatedAt.Format(TimestampLayout))
	return strings.Join(parts, ",")
}

// DataPayload tags a telemetry reading unless it already carries the tag.
func DataPayload(reading string) string {
	if PayloadTag(reading) == TagData {
		return reading
	}
	return TagData + "," + reading
}

// PayloadTag returns the leading field of a payload.
func PayloadTag(payload string) string {
	tag, _, _ := strings.Cut(payload, ",")
	return tag
}

// Envelope is a relay payload addressed to a destination queue.
type Envelope struct {
	Destination string    `json:"destination"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}
