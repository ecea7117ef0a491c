// Package classifier turns raw UC readings into health statuses and
// reading-schedule anomaly flags.
package classifier

import (
	"github.com/ucwatch/ucwatch/pkg/types"
)

const (
	// DefaultMinReadingDays and DefaultMaxReadingDays bound the expected
	// billing cycle length (one month plus tolerance).
	DefaultMinReadingDays = 27
	DefaultMaxReadingDays = 33
)

// Classifier maps a raw UC record to a health status and to
// reading-schedule anomaly flags. It is pure and stateless; malformed
// input (negative injection, negative days) is passed through
// uninterpreted because raw validation is the record store's concern.
type Classifier struct {
	// MinReadingDays and MaxReadingDays are the inclusive bounds of the
	// accepted reading-period band in days.
	MinReadingDays int
	MaxReadingDays int
}

// New returns a Classifier with the default 27-33 day band.
func New() *Classifier {
	return &Classifier{
		MinReadingDays: DefaultMinReadingDays,
		MaxReadingDays: DefaultMaxReadingDays,
	}
}

// Classify returns the health status of the record and, independently,
// the early/late reading anomaly if the reading period falls outside
// the expected band.
func (c *Classifier) Classify(rec types.UCRecord) types.Classification {
	var cls types.Classification

	switch {
	case rec.Injected == nil:
		cls.Status = types.StatusNoData
	case *rec.Injected == 0:
		cls.Status = types.StatusZeroInjection
	default:
		cls.Status = types.StatusOK
	}

	// the reading-period band is evaluated independently of injection
	if rec.ReadingDays != nil {
		days := *rec.ReadingDays
		if days < c.MinReadingDays {
			cls.EarlyDays = c.MinReadingDays - days
		} else if days > c.MaxReadingDays {
			cls.LateDays = days - c.MaxReadingDays
		}
	}

	return cls
}
