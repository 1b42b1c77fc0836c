package geocode

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sells-group/crm-dedup/internal/model"
)

// cacheKey returns SHA-256 hex of the normalized address, or "" when the
// address is blank.
func cacheKey(query string) string {
	normalized := model.NormalizeText(query)
	if normalized == "" {
		return ""
	}
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// Settlement and region markers dropped from address parts, e.g.
// "Полтавська обл., Лубенський р-н, с. Богодарівка".
var addressNoise = strings.NewReplacer(
	" обл.", "",
	" р-н", "",
	"смт. ", "",
	"с. ", "",
	"м. ", "",
)

// searchAttempts returns the queries tried in order for an address: the
// cleaned full address, its first part (usually the settlement), then the
// address as written. Duplicates are removed.
func searchAttempts(query string) []string {
	var parts []string
	for _, p := range strings.Split(query, ",") {
		if cleaned := strings.TrimSpace(addressNoise.Replace(strings.TrimSpace(p))); cleaned != "" {
			parts = append(parts, cleaned)
		}
	}

	candidates := []string{strings.Join(parts, ", ")}
	if len(parts) > 0 {
		candidates = append(candidates, parts[0])
	}
	candidates = append(candidates, strings.TrimSpace(query))

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
