package domain

import "time"

// Card represents a single reviewable question-answer-context entry.
// The scheduler only looks at ID and CreatedAt; the text fields belong to the
// content catalog and are carried along for presentation.
type Card struct {
	ID        string
	Question  string
	Answer    string
	Context   string
	CreatedAt time.Time
}

// ReviewState is the scheduling record of one learner for one card.
type ReviewState struct {
	LearnerID    string
	CardID       string
	Repetitions  int
	IntervalDays int
	EaseFactor   float64
	NextReviewAt time.Time
	// LastReviewedAt is nil until the first rating has been applied.
	LastReviewedAt *time.Time
	// FirstReviewedAt is the instant of the rating that created the record.
	FirstReviewedAt time.Time
}

// Due reports whether the card is due on the calendar day of now.
func (s ReviewState) Due(now time.Time) bool {
	return !s.NextReviewAt.After(Day(now))
}

// Valid reports whether the state satisfies the scheduling invariants.
func (s ReviewState) Valid() bool {
	if s.Repetitions < 0 || s.IntervalDays < 1 || s.EaseFactor < MinEaseFactor {
		return false
	}
	if s.LastReviewedAt != nil && s.NextReviewAt.Before(*s.LastReviewedAt) {
		return false
	}
	return true
}

// ReviewLog records a single rating event for a card.
type ReviewLog struct {
	LearnerID  string
	CardID     string
	Quality    Quality
	ReviewedAt time.Time
}

// Day truncates t to midnight UTC. All scheduling uses UTC calendar days.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
