package metasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caltek/urbanova-gcp-client/internal/domain"
)

const metaDoc = `{
  // station 1001, test rig
  "stationid": "1001",
  "sensor1": [{"name": "air_temp", "sn": "T100", "calibration": "1.00"}],
  "sensor2": [{"name": "humidity", "sn": "H200", "calibration": "0.98"}],
  "sensor3": [{"name": "pm25", "sn": "P300", "calibration": "1.02"}],
  "sensor4": [{"name": "pm10", "sn": "P400", "calibration": "1.01"}],
  "sensor5": [{"name": "no2", "sn": "N500", "calibration": "0.97"}],
  "sensor6": [{"name": "o3", "sn": "O600", "calibration": "1.03"},],
}`

func TestFileSourceLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	if err := os.WriteFile(path, []byte(metaDoc), 0o600); err != nil {
		t.Fatalf("write meta: %v", err)
	}

	meta, err := NewFileSource(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if meta.StationID != "1001" {
		t.Fatalf("expected station 1001, got %q", meta.StationID)
	}
	if got := meta.Sensors[5]; got.Name != "o3" || got.SerialNumber != "O600" || got.Calibration != "1.03" {
		t.Fatalf("unexpected sensor6 %+v", got)
	}
	if _, err := domain.ComputeFingerprint("abc", meta); err != nil {
		t.Fatalf("loaded metadata should fingerprint: %v", err)
	}
}

func TestParseNumericStationID(t *testing.T) {
	doc := strings.Replace(metaDoc, `"stationid": "1001"`, `"stationid": 1001`, 1)
	meta, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.StationID != "1001" {
		t.Fatalf("expected numeric id rendered as 1001, got %q", meta.StationID)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"stationid":`,
		"missing sensor":  strings.Replace(metaDoc, `"sensor4"`, `"sensorX"`, 1),
		"empty sensor":    strings.Replace(metaDoc, `[{"name": "pm10", "sn": "P400", "calibration": "1.01"}]`, `[]`, 1),
		"empty field":     strings.Replace(metaDoc, `"sn": "H200"`, `"sn": ""`, 1),
		"missing station": strings.Replace(metaDoc, `"stationid": "1001",`, ``, 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, domain.ErrMalformedMetadata) {
				t.Fatalf("expected ErrMalformedMetadata, got %v", err)
			}
		})
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.json")).Load(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
