// Package catalog feeds the card catalog from markdown decks kept in local
// directories or git repositories.
package catalog

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/recall/internal/domain"
)

type field int

const (
	fieldNone field = iota
	fieldQuestion
	fieldAnswer
	fieldContext
)

var prefixes = []struct {
	prefix string
	field  field
}{
	{"Q:", fieldQuestion},
	{"A:", fieldAnswer},
	{"C:", fieldContext},
}

// ParseFile reads a markdown deck and extracts all cards.
func ParseFile(path string) ([]domain.Card, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse extracts cards from r. A card starts at a "Q:" line and may carry
// "A:" and "C:" blocks; each block runs until the next prefix. A line of
// "---" ends the current card. Cards get their content hash as ID.
func Parse(r io.Reader) ([]domain.Card, error) {
	p := &deckParser{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line(scanner.Text())
	}
	p.finishCard()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p.cards, nil
}

type deckParser struct {
	cards   []domain.Card
	card    domain.Card
	current field
	block   []string
}

func (p *deckParser) line(line string) {
	if line == "---" {
		p.finishCard()
		return
	}
	for _, pf := range prefixes {
		if rest, ok := strings.CutPrefix(line, pf.prefix); ok {
			p.flush()
			// A new question always starts a new card.
			if pf.field == fieldQuestion && p.card.Question != "" {
				p.finishCard()
			}
			p.current = pf.field
			p.block = append(p.block, strings.TrimPrefix(rest, " "))
			return
		}
	}
	if p.current != fieldNone {
		p.block = append(p.block, line)
	}
}

// flush stores the accumulated block in the field being read.
func (p *deckParser) flush() {
	if len(p.block) == 0 {
		return
	}
	content := strings.TrimRight(strings.Join(p.block, "\n"), "\n")
	switch p.current {
	case fieldQuestion:
		p.card.Question = content
	case fieldAnswer:
		p.card.Answer = content
	case fieldContext:
		p.card.Context = content
	}
	p.block = nil
}

func (p *deckParser) finishCard() {
	p.flush()
	if p.card.Question != "" {
		p.card.ID = Hash(p.card)
		p.cards = append(p.cards, p.card)
	}
	p.card = domain.Card{}
	p.current = fieldNone
}
