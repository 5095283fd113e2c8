package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

// Normalize joins the card's text fields after lowercasing, trimming and
// normalising line endings, so cosmetic edits keep the same identity.
func Normalize(card domain.Card) string {
	parts := []string{card.Question, card.Answer, card.Context}
	for i, p := range parts {
		p = strings.ReplaceAll(p, "\r\n", "\n")
		parts[i] = strings.TrimSpace(strings.ToLower(p))
	}
	// Newline separation keeps "ab"+"c" distinct from "a"+"bc".
	return strings.Join(parts, "\n")
}

// Hash returns the card ID: the hex SHA-256 of its normalized content.
func Hash(card domain.Card) string {
	sum := sha256.Sum256([]byte(Normalize(card)))
	return hex.EncodeToString(sum[:])
}
