// Package sm2 implements the SuperMemo-2 scheduling step.
package sm2

import (
	"fmt"
	"math"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// State is the part of a review state that SM-2 reads and writes.
type State struct {
	Repetitions  int
	IntervalDays int
	EaseFactor   float64
}

// Initial is the prior assumed for a card that has never been rated.
var Initial = State{Repetitions: 0, IntervalDays: 1, EaseFactor: domain.DefaultEaseFactor}

// Result is the outcome of one review.
type Result struct {
	State
	NextReviewAt time.Time
}

// FromReviewState extracts the SM-2 prior from a stored record. A nil record
// yields Initial.
func FromReviewState(rs *domain.ReviewState) State {
	if rs == nil {
		return Initial
	}
	return State{
		Repetitions:  rs.Repetitions,
		IntervalDays: rs.IntervalDays,
		EaseFactor:   rs.EaseFactor,
	}
}

// Next applies a rating of quality q to prior at instant now.
// It is pure: the same inputs always produce the same result.
func Next(prior State, q domain.Quality, now time.Time) (Result, error) {
	if !q.Valid() {
		return Result{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuality, q)
	}

	ease := NextEase(prior.EaseFactor, q)

	var next State
	next.EaseFactor = ease
	if q.Lapse() {
		next.Repetitions = 0
		next.IntervalDays = 1
	} else {
		next.Repetitions = max(prior.Repetitions, 0) + 1
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = max(1, int(math.Round(float64(prior.IntervalDays)*ease)))
		}
	}

	return Result{
		State:        next,
		NextReviewAt: DueDate(now, next.IntervalDays),
	}, nil
}

// NextEase returns the adjusted ease factor for quality q, rounded to two
// decimals and floored at 1.3. There is no upper bound.
func NextEase(ease float64, q domain.Quality) float64 {
	miss := float64(domain.MaxQuality - q)
	ease += 0.1 - miss*(0.08+miss*0.02)
	ease = math.Round(ease*100) / 100
	return math.Max(domain.MinEaseFactor, ease)
}

// DueDate returns the UTC calendar day intervalDays after the day of now.
func DueDate(now time.Time, intervalDays int) time.Time {
	return domain.Day(now).AddDate(0, 0, intervalDays)
}
