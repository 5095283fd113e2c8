// Package queue builds the ordered list of cards presented in one study
// session: everything due first, most overdue first, then a capped tail of
// cards the learner has never rated, oldest content first.
package queue

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/recall/internal/domain"
)

var validate = validator.New()

// Config controls session size.
type Config struct {
	// DailyNewCardLimit caps how many never-rated cards are introduced per day.
	DailyNewCardLimit int `koanf:"daily_new_card_limit" validate:"gte=0"`
	// DueCapacity caps due cards per session; zero means unbounded.
	DueCapacity int `koanf:"due_capacity" validate:"gte=0"`
}

// DefaultConfig returns a limit of 20 new cards per day and no due cap.
func DefaultConfig() Config {
	return Config{DailyNewCardLimit: 20}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("queue: invalid config: %w", err)
	}
	return nil
}

// Kind tells whether an entry is a review or an introduction.
type Kind int

const (
	Due Kind = iota
	New
)

func (k Kind) String() string {
	switch k {
	case Due:
		return "due"
	case New:
		return "new"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Entry is one slot of the queue. Card holds the catalog record when the
// card is still in the catalog; due cards that were retracted only carry ID.
type Entry struct {
	Card domain.Card
	Kind Kind
}

// Queue is the ordered result of Build.
type Queue struct {
	LearnerID string
	Entries   []Entry
}

// Empty reports whether there is nothing to study. Callers should show a
// "come back tomorrow" state rather than retry.
func (q Queue) Empty() bool {
	return len(q.Entries) == 0
}

// Len returns the number of entries.
func (q Queue) Len() int {
	return len(q.Entries)
}

// CardIDs returns the card identifiers in presentation order.
func (q Queue) CardIDs() []string {
	ids := make([]string, len(q.Entries))
	for i, e := range q.Entries {
		ids[i] = e.Card.ID
	}
	return ids
}

// Count returns how many entries are of kind k.
func (q Queue) Count(k Kind) int {
	n := 0
	for _, e := range q.Entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Build computes the session queue for learnerID at now. States belonging
// to other learners are ignored. The result depends only on the inputs.
func Build(learnerID string, now time.Time, states []domain.ReviewState, cards []domain.Card, cfg Config) (Queue, error) {
	if err := cfg.Validate(); err != nil {
		return Queue{}, err
	}

	sel := selectCards(learnerID, now, states, cards)

	due := sel.due
	if cfg.DueCapacity > 0 && len(due) > cfg.DueCapacity {
		due = due[:cfg.DueCapacity]
	}

	allowance := max(0, cfg.DailyNewCardLimit-sel.introducedToday)
	fresh := sel.fresh
	if len(fresh) > allowance {
		fresh = fresh[:allowance]
	}

	entries := make([]Entry, 0, len(due)+len(fresh))
	for _, rs := range due {
		card, ok := sel.catalog[rs.CardID]
		if !ok {
			card = domain.Card{ID: rs.CardID}
		}
		entries = append(entries, Entry{Card: card, Kind: Due})
	}
	for _, c := range fresh {
		entries = append(entries, Entry{Card: c, Kind: New})
	}

	return Queue{LearnerID: learnerID, Entries: entries}, nil
}

// Summary is a dashboard view of a learner's deck.
type Summary struct {
	Due             int // all due cards, ignoring DueCapacity
	New             int // never-rated cards in the catalog
	IntroducedToday int // cards first rated today
	NewToday        int // new cards the next session would introduce
}

// Summarize counts due and new cards without building a session.
func Summarize(learnerID string, now time.Time, states []domain.ReviewState, cards []domain.Card, cfg Config) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, err
	}
	sel := selectCards(learnerID, now, states, cards)
	allowance := max(0, cfg.DailyNewCardLimit-sel.introducedToday)
	return Summary{
		Due:             len(sel.due),
		New:             len(sel.fresh),
		IntroducedToday: sel.introducedToday,
		NewToday:        min(allowance, len(sel.fresh)),
	}, nil
}

type selection struct {
	due             []domain.ReviewState
	fresh           []domain.Card
	introducedToday int
	catalog         map[string]domain.Card
}

func selectCards(learnerID string, now time.Time, states []domain.ReviewState, cards []domain.Card) selection {
	today := domain.Day(now)
	sel := selection{catalog: make(map[string]domain.Card, len(cards))}

	seen := make(map[string]bool, len(states))
	for _, rs := range states {
		if rs.LearnerID != learnerID || seen[rs.CardID] {
			continue
		}
		seen[rs.CardID] = true
		if domain.Day(rs.FirstReviewedAt).Equal(today) {
			sel.introducedToday++
		}
		if rs.Due(now) {
			sel.due = append(sel.due, rs)
		}
	}
	slices.SortFunc(sel.due, func(a, b domain.ReviewState) int {
		return cmp.Or(a.NextReviewAt.Compare(b.NextReviewAt), cmp.Compare(a.CardID, b.CardID))
	})

	for _, c := range cards {
		if _, dup := sel.catalog[c.ID]; dup {
			continue
		}
		sel.catalog[c.ID] = c
		if !seen[c.ID] {
			sel.fresh = append(sel.fresh, c)
		}
	}
	slices.SortFunc(sel.fresh, func(a, b domain.Card) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	return sel
}
