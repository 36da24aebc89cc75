package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Fingerprint is the lowercase hex digest identifying one metadata state.
type Fingerprint string

// ComputeFingerprint digests salt followed by the flattened sensor fields.
// MD5 is enough to notice a change; it is not a tamper seal.
func ComputeFingerprint(salt string, meta *StationMetadata) (Fingerprint, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(salt + strings.Join(meta.Fields(), "")))
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

func (f Fingerprint) String() string { return string(f) }
