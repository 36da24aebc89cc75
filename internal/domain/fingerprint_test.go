package domain

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
)

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func sampleMetadata() *StationMetadata {
	m := &StationMetadata{StationID: "1001"}
	for i := range m.Sensors {
		m.Sensors[i] = Sensor{
			Name:         fmt.Sprintf("sensor-%d", i+1),
			SerialNumber: fmt.Sprintf("SN%04d", i+1),
			Calibration:  fmt.Sprintf("cal-%d.0", i+1),
		}
	}
	return m
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	meta := sampleMetadata()

	a, err := ComputeFingerprint("abc", meta)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := ComputeFingerprint("abc", sampleMetadata())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s and %s", a, b)
	}
	if !hex32.MatchString(a.String()) {
		t.Fatalf("expected 32 lowercase hex chars, got %q", a)
	}
}

func TestComputeFingerprintKnownDigest(t *testing.T) {
	meta := &StationMetadata{StationID: "1"}
	for i := range meta.Sensors {
		meta.Sensors[i] = Sensor{Name: "a", SerialNumber: "b", Calibration: "c"}
	}
	got, err := ComputeFingerprint("", meta)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	// md5("abcabcabcabcabcabc")
	if want := Fingerprint("2e6d502bc154e1a0cf67bb2d497669ce"); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestComputeFingerprintSensitiveToEveryField(t *testing.T) {
	base, err := ComputeFingerprint("abc", sampleMetadata())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	seen := map[Fingerprint]string{base: "base"}
	for i := 0; i < SensorCount; i++ {
		for field := 0; field < 3; field++ {
			meta := sampleMetadata()
			s := &meta.Sensors[i]
			switch field {
			case 0:
				s.Name += "x"
			case 1:
				s.SerialNumber += "x"
			case 2:
				s.Calibration += "x"
			}
			got, err := ComputeFingerprint("abc", meta)
			if err != nil {
				t.Fatalf("fingerprint: %v", err)
			}
			label := fmt.Sprintf("sensor%d field %d", i+1, field)
			if prev, dup := seen[got]; dup {
				t.Fatalf("%s collides with %s: %s", label, prev, got)
			}
			seen[got] = label
		}
	}
}

func TestComputeFingerprintSaltMatters(t *testing.T) {
	a, _ := ComputeFingerprint("abc", sampleMetadata())
	b, _ := ComputeFingerprint("abd", sampleMetadata())
	if a == b {
		t.Fatalf("expected salt to change fingerprint")
	}
}

func TestComputeFingerprintCalibrationChange(t *testing.T) {
	before, _ := ComputeFingerprint("abc", sampleMetadata())

	meta := sampleMetadata()
	meta.Sensors[3].Calibration = "recalibrated"
	after, err := ComputeFingerprint("abc", meta)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if before == after {
		t.Fatalf("expected calibration change to alter fingerprint")
	}
	if !hex32.MatchString(after.String()) {
		t.Fatalf("expected 32 hex chars, got %q", after)
	}
}

func TestComputeFingerprintMalformed(t *testing.T) {
	cases := map[string]func(*StationMetadata){
		"empty station":     func(m *StationMetadata) { m.StationID = "" },
		"empty name":        func(m *StationMetadata) { m.Sensors[0].Name = "" },
		"empty serial":      func(m *StationMetadata) { m.Sensors[2].SerialNumber = "" },
		"empty calibration": func(m *StationMetadata) { m.Sensors[5].Calibration = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			meta := sampleMetadata()
			mutate(meta)
			if _, err := ComputeFingerprint("abc", meta); !errors.Is(err, ErrMalformedMetadata) {
				t.Fatalf("expected ErrMalformedMetadata, got %v", err)
			}
		})
	}

	if _, err := ComputeFingerprint("abc", nil); !errors.Is(err, ErrMalformedMetadata) {
		t.Fatalf("expected ErrMalformedMetadata for nil metadata, got %v", err)
	}
}
