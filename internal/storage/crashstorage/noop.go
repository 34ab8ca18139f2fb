package crashstorage

import (
	"context"
	"sync"

	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"go.uber.org/zap"
)

const noopKeep = 10

// SavedCrash is a crash held by NoopCrashStorage.
type SavedCrash struct {
	CrashID  string
	RawCrash domain.RawCrash
	Dumps    domain.Dumps
}

// NoopCrashStorage logs saves and remembers the most recent crashes in
// memory. It is the default for local development and tests.
type NoopCrashStorage struct {
	log *zap.Logger

	mu    sync.Mutex
	saved []SavedCrash
}

func NewNoop(log *zap.Logger) *NoopCrashStorage {
	return &NoopCrashStorage{log: log}
}

func (s *NoopCrashStorage) SaveDumps(_ context.Context, crashID string, dumps domain.Dumps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(crashID).Dumps = dumps
	s.log.Info("noop: saved dumps", zap.String("crash_id", crashID), zap.Int("count", len(dumps)))
	return nil
}

func (s *NoopCrashStorage) SaveRawCrash(_ context.Context, crashID string, raw domain.RawCrash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(crashID).RawCrash = raw
	s.log.Info("noop: saved raw crash", zap.String("crash_id", crashID))
	return nil
}

func (s *NoopCrashStorage) CheckHealth(context.Context, *domain.HealthState) {}

// Saved returns a copy of the remembered crashes, oldest first.
func (s *NoopCrashStorage) Saved() []SavedCrash {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SavedCrash, len(s.saved))
	copy(out, s.saved)
	return out
}

// entry must be called with mu held.
func (s *NoopCrashStorage) entry(crashID string) *SavedCrash {
	for i := range s.saved {
		if s.saved[i].CrashID == crashID {
			return &s.saved[i]
		}
	}

	s.saved = append(s.saved, SavedCrash{CrashID: crashID})
	if len(s.saved) > noopKeep {
		s.saved = s.saved[len(s.saved)-noopKeep:]
	}
	return &s.saved[len(s.saved)-1]
}
