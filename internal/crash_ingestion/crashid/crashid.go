// Package crashid creates and inspects crash ids.
//
// A crash id is a random UUID whose last seven characters are replaced by the
// throttle result digit and the submission date as yymmdd, e.g.
// de1bb258-cbbf-4589-a673-34f802160918.
package crashid

import (
	"fmt"
	"regexp"
	"time"

	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/google/uuid"
)

var crashIDRe = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{6}[0-9]{6}$`)

// Create returns a new crash id for a crash submitted at now that was given
// throttleResult.
func Create(now time.Time, throttleResult int) string {
	id := uuid.New().String()
	now = now.UTC()
	return fmt.Sprintf("%s%d%02d%02d%02d", id[:len(id)-7], throttleResult, now.Year()%100, int(now.Month()), now.Day())
}

// Validate reports whether id is a well formed crash id carrying an ACCEPT or
// DEFER throttle digit.
func Validate(id string) bool {
	if !crashIDRe.MatchString(id) {
		return false
	}
	throttle := id[len(id)-7]
	return throttle == '0' || throttle == '1'
}

// Date returns the submission date embedded in id as YYYYMMDD.
func Date(id string) (string, error) {
	if len(id) < 6 {
		return "", domain.ErrInvalidCrashID
	}
	return "20" + id[len(id)-6:], nil
}

// Entropy returns the key prefix used to spread crashes across storage
// partitions.
func Entropy(id string) string {
	if len(id) < 3 {
		return id
	}
	return id[:3]
}
