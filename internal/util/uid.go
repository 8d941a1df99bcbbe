package util

import (
	"fmt"
	"hash/fnv"
)

// uidRoot is the organisation root used for generated UIDs.
const uidRoot = "1.2.826.0.1.3680043.8.498."

// GenerateDeterministicUID derives a DICOM UID from seed. The same seed
// always yields the same UID, and the result fits the 64 character limit.
func GenerateDeterministicUID(seed string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed)) // hash.Write never returns an error
	hi := h.Sum64()
	_, _ = h.Write([]byte{0})
	lo := h.Sum64()
	return fmt.Sprintf("%s%d.%d", uidRoot, hi, lo%1_000_000_000)
}
