package catalog

import (
	"testing"

	"github.com/conorfennell/recall/internal/domain"
)

func TestNormalize(t *testing.T) {
	card := domain.Card{
		Question: "  Hva er ARCTAN'(x)? \r\n",
		Answer:   "1/(1+x^2)",
		Context:  "R2 Derivasjon",
	}
	expected := "hva er arctan'(x)?\n1/(1+x^2)\nr2 derivasjon"
	if got := Normalize(card); got != expected {
		t.Errorf("Normalize() = %q, want %q", got, expected)
	}
}

func TestHash(t *testing.T) {
	t.Run("known digest", func(t *testing.T) {
		// SHA-256 of "q\na\nc"
		expected := "eb2456c1ee4f36305069dd0f63a30e92d5443129f5e8fd9a5ec490fbc4d4d8a2"
		if got := Hash(domain.Card{Question: "Q", Answer: "A", Context: "C"}); got != expected {
			t.Errorf("Hash() = %s, want %s", got, expected)
		}
	})

	t.Run("ignores id and creation time", func(t *testing.T) {
		a := domain.Card{ID: "x", Question: "Test"}
		b := domain.Card{Question: "Test"}
		if Hash(a) != Hash(b) {
			t.Error("hash depends on non-content fields")
		}
	})

	t.Run("cosmetic edits keep identity", func(t *testing.T) {
		a := domain.Card{Question: "  what is go? ", Answer: "A programming language."}
		b := domain.Card{Question: "What Is Go?", Answer: "A programming language."}
		if Hash(a) != Hash(b) {
			t.Error("normalization should produce the same hash")
		}
	})

	t.Run("field boundaries matter", func(t *testing.T) {
		a := domain.Card{Question: "ab", Answer: "c"}
		b := domain.Card{Question: "a", Answer: "bc"}
		if Hash(a) == Hash(b) {
			t.Error("different field splits produced the same hash")
		}
	})
}
