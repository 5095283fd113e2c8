package domain

import "errors"

// Sentinel errors shared by the scheduling packages.
// Use errors.Is to check: errors.Is(err, domain.ErrInvalidQuality)
var (
	ErrInvalidQuality   = errors.New("domain: invalid quality")
	ErrOutOfOrderRating = errors.New("domain: rating does not match the presented card")
)
