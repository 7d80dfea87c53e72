// Package grammarid derives stable identifiers for grammar points from their content.
package grammarid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/conorfennell/fushigi/internal/domain"
)

// fieldSep separates the identifying fields so that moving text from one
// field into its neighbour changes the identity.
const fieldSep = "\x1f"

// Normalize returns the identity text of a grammar point: usage, meaning and
// context, each NFKC-folded, lowercased and with whitespace runs collapsed.
// NFKC folds full-width Latin and digits (Ｎ５) and half-width kana (ﾃ) so
// the same point typed on different keyboards keeps one id.
//
// Level, notes, nuance, tags and examples are left out: a point that is
// reclassified or annotated keeps its review history.
func Normalize(g domain.GrammarPoint) string {
	parts := []string{g.Usage, g.Meaning, g.Context}
	for i, p := range parts {
		p = norm.NFKC.String(p)
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	return strings.Join(parts, fieldSep)
}

// Hash returns the hex SHA-256 of the normalized grammar point.
func Hash(g domain.GrammarPoint) string {
	sum := sha256.Sum256([]byte(Normalize(g)))
	return hex.EncodeToString(sum[:])
}

// Assign fills in the ID of every point that does not have one yet.
func Assign(points []domain.GrammarPoint) {
	for i := range points {
		if points[i].ID == "" {
			points[i].ID = Hash(points[i])
		}
	}
}
