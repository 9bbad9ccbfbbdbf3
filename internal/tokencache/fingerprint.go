package tokencache

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Key identifies the tokens that are interchangeable for a request.
// Scopes must be normalized. Target is empty when the access boundary is disabled.
type Key struct {
	Identity string
	Scopes   []string
	Target   string
}

// Fingerprint returns a stable hash of the key. Fields are length-prefixed,
// so no two distinct keys share an encoding.
func (k Key) Fingerprint() string {
	h := blake3.New()
	writeField(h, k.Identity)
	writeField(h, k.Target)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(k.Scopes)))
	_, _ = h.Write(n[:])
	for _, s := range k.Scopes {
		writeField(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h *blake3.Hasher, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}
