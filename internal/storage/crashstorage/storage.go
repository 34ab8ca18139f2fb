// Package crashstorage saves crash reports: dumps first, then the raw crash.
package crashstorage

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
)

// CrashStorage persists crash reports.
type CrashStorage interface {
	SaveDumps(ctx context.Context, crashID string, dumps domain.Dumps) error
	SaveRawCrash(ctx context.Context, crashID string, raw domain.RawCrash) error
	CheckHealth(ctx context.Context, state *domain.HealthState)
}

// dumpKeyName maps the main dump field to "dump"; other names are kept.
func dumpKeyName(name, dumpField string) string {
	if name == "" || name == dumpField {
		return "dump"
	}
	return name
}

func dumpNamesJSON(dumps domain.Dumps) ([]byte, error) {
	names := make([]string, 0, len(dumps))
	for name := range dumps {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := json.Marshal(names)
	if err != nil {
		return nil, errors.Wrap(err, "marshal dump names")
	}
	return data, nil
}

// rawCrashJSON serializes raw with keys in sorted order.
func rawCrashJSON(raw domain.RawCrash) ([]byte, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "marshal raw crash")
	}
	return data, nil
}
