package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes a stable content hash for dedup decisions.
//
// The payload is serialized with stable key ordering (encoding/json sorts
// map keys) and hashed with SHA-256. If serialization fails, a best-effort
// string rendering is hashed instead; Fingerprint itself never fails.
func Fingerprint(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
