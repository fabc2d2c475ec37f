package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// HashAlgorithm selects the digest used for column content hashes.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashBLAKE3 HashAlgorithm = "blake3"
)

// ParseHashAlgorithm accepts "sha256" (also the empty string) and "blake3".
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch HashAlgorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", HashSHA256:
		return HashSHA256, nil
	case HashBLAKE3:
		return HashBLAKE3, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", s)
	}
}

func (a HashAlgorithm) new() hash.Hash {
	if a == HashBLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// HashColumn hashes every cell on its own, concatenates the hex digests in
// order and returns the hex digest of that concatenation. The result depends
// only on the cell values and their order.
func HashColumn(vals []any, alg HashAlgorithm) string {
	var sb strings.Builder
	h := alg.new()
	for _, v := range vals {
		h.Reset()
		h.Write([]byte(formatCell(v)))
		sb.WriteString(hex.EncodeToString(h.Sum(nil)))
	}
	h.Reset()
	h.Write([]byte(sb.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// formatCell renders a cell for hashing and export. Nulls render as "nan".
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "nan"
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float32:
		return formatFloat(float64(x), 32)
	case float64:
		return formatFloat(x, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
