package util

import (
	"strings"
	"testing"
)

func TestGenerateDeterministicUID(t *testing.T) {
	seeds := []string{"test", "study_123_series_456", "test/path/to/output",
		"this_is_a_very_long_seed_string_for_testing_uid_generation"}
	seen := map[string]string{}
	for _, seed := range seeds {
		uid := GenerateDeterministicUID(seed)
		if !strings.HasPrefix(uid, uidRoot) {
			t.Errorf("UID should start with %s, got: %s", uidRoot, uid)
		}
		if len(uid) > 64 {
			t.Errorf("UID too long: %d chars: %s", len(uid), uid)
		}
		for _, c := range uid {
			if c != '.' && (c < '0' || c > '9') {
				t.Errorf("UID contains invalid character '%c': %s", c, uid)
			}
		}
		if uid != GenerateDeterministicUID(seed) {
			t.Errorf("seed %q is not deterministic", seed)
		}
		if prev, dup := seen[uid]; dup {
			t.Errorf("seeds %q and %q collide on %s", prev, seed, uid)
		}
		seen[uid] = seed
	}
}
