package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/minhqd/shopchat/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalizes text for identity comparison: lowercased, diacritics
// stripped, whitespace collapsed. "Phở Bò" and "pho  bo" fold to the same
// string, which is what makes re-extracted Vietnamese names match.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	// đ is a base letter, not a combining mark; NFD leaves it alone.
	out = strings.ReplaceAll(out, "đ", "d")
	return strings.Join(strings.Fields(out), " ")
}

// Fingerprint derives the stable identity of a logical item. Two extraction
// runs that produce the same (tenant, kind, folded name, folded signature)
// resolve to the same fingerprint and therefore the same item_id.
func Fingerprint(tenantID uuid.UUID, kind models.ItemKind, name, signature string) string {
	h := sha256.New()
	h.Write([]byte(tenantID.String()))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(Fold(name)))
	h.Write([]byte{0})
	h.Write([]byte(Fold(signature)))
	return hex.EncodeToString(h.Sum(nil))
}
