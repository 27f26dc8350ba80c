package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// NormalizeBasename reduces a client file name to the key used for history
// and in-batch matching: the lowercased final path element.
func NormalizeBasename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return strings.ToLower(base)
}

// NormalizeContent lowercases text, drops punctuation and collapses whitespace.
func NormalizeContent(content string) string {
	return strings.Join(words(content), " ")
}

// ContentHash is the hex sha256 of the normalized content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(NormalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// Shingles returns the set of hashed word pairs of the normalized content.
// Single-word content yields a one-element set.
func Shingles(content string) map[uint64]struct{} {
	ws := words(content)
	out := make(map[uint64]struct{}, len(ws))
	if len(ws) == 1 {
		out[xxhash.Sum64String(ws[0])] = struct{}{}
		return out
	}
	for i := 0; i+1 < len(ws); i++ {
		out[xxhash.Sum64String(ws[i]+" "+ws[i+1])] = struct{}{}
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func Jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is the Jaccard similarity of the two texts' shingle sets.
func Similarity(a, b string) float64 {
	return Jaccard(Shingles(a), Shingles(b))
}

func words(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
