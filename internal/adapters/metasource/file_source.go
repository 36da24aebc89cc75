package metasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
	"github.com/caltek/urbanova-gcp-client/internal/ports"
)

// FileSource reads station metadata from a JSON document of the form
//
//	{"stationid": "1001", "sensor1": [{"name": ..., "sn": ..., "calibration": ...}], ...}
//
// Comments and trailing commas are tolerated.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Load(ctx context.Context) (*domain.StationMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", f.Path, err)
	}
	meta, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return meta, nil
}

// Parse decodes and validates a metadata document.
func Parse(data []byte) (*domain.StationMetadata, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedMetadata, err)
	}

	stationID, err := parseStationID(doc["stationid"])
	if err != nil {
		return nil, err
	}

	meta := &domain.StationMetadata{StationID: stationID}
	for i := range meta.Sensors {
		key := fmt.Sprintf("sensor%d", i+1)
		raw, ok := doc[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s is missing", domain.ErrMalformedMetadata, key)
		}
		var entries []domain.Sensor
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedMetadata, key, err)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %s is empty", domain.ErrMalformedMetadata, key)
		}
		meta.Sensors[i] = entries[0]
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// parseStationID accepts the id either as a string or as a bare number.
func parseStationID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: stationid is missing", domain.ErrMalformedMetadata)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("%w: stationid: %v", domain.ErrMalformedMetadata, err)
	}
	return n.String(), nil
}

var _ ports.MetadataSource = (*FileSource)(nil)
