package crypto

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
)

const trackKeySecret = "g4el58wc0zvf9na1"

// DeriveTrackKey maps a track identifier to the 16-byte key that
// decrypts its obfuscated stream chunks. Pure and deterministic: the
// two md5 hex halves of the id are folded onto the service secret.
func DeriveTrackKey(trackID string) [16]byte {
	sum := md5.Sum([]byte(trackID)) //nolint:gosec
	h := hex.EncodeToString(sum[:])

	var key [16]byte
	for i := range 16 {
		key[i] = h[i] ^ h[i+16] ^ trackKeySecret[i]
	}

	return key
}
