package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Quality is the learner's 0-5 self-assessment of recall.
type Quality int

// Qualities produced by the swipe gestures of the review card.
const (
	Forgot     Quality = 1 // swipe left
	Almost     Quality = 3 // swipe up
	Remembered Quality = 5 // swipe right
)

const (
	MinQuality Quality = 0
	MaxQuality Quality = 5

	// PassThreshold is the lowest quality that does not count as a lapse.
	PassThreshold Quality = 3

	MinEaseFactor     = 1.3
	DefaultEaseFactor = 2.5
)

// Valid reports whether q lies in [0,5].
func (q Quality) Valid() bool {
	return q >= MinQuality && q <= MaxQuality
}

// Lapse reports whether q is a failed recall.
func (q Quality) Lapse() bool {
	return q < PassThreshold
}

// ParseQuality parses a rating as sent by a client. Whole numbers in [0,5]
// are accepted in any numeric spelling ("4", "4.0", "4e0"); fractions such as
// "3.5" and anything non-numeric are rejected.
func ParseQuality(s string) (Quality, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || f < float64(MinQuality) || f > float64(MaxQuality) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
		}
		n = int(f)
	}
	q := Quality(n)
	if !q.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuality, n)
	}
	return q, nil
}
