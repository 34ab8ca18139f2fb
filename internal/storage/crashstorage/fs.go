package crashstorage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/crashid"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"go.uber.org/zap"
)

// FSCrashStorage writes crashes to a local directory tree:
//
//	<root>/<YYYYMMDD>/raw_crash/<crash_id>.json
//	<root>/<YYYYMMDD>/dump_names/<crash_id>.json
//	<root>/<YYYYMMDD>/<dump_name>/<crash_id>
type FSCrashStorage struct {
	root      string
	dumpField string
	log       *zap.Logger
}

func NewFS(root, dumpField string, log *zap.Logger) (*FSCrashStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create crash storage root %s", root)
	}
	return &FSCrashStorage{root: root, dumpField: dumpField, log: log}, nil
}

// path joins elem under the date directory of crashID and refuses results
// that leave the storage root.
func (s *FSCrashStorage) path(crashID string, elem ...string) (string, error) {
	date, err := crashid.Date(crashID)
	if err != nil {
		return "", errors.Wrapf(err, "crash id %q", crashID)
	}

	path := filepath.Join(append([]string{s.root, date}, elem...)...)
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(domain.ErrInvalidDumpName, "%s escapes crash storage root", path)
	}
	return path, nil
}

func (s *FSCrashStorage) SaveDumps(_ context.Context, crashID string, dumps domain.Dumps) error {
	if err := domain.CheckDumpNames(dumps, s.dumpField); err != nil {
		return errors.Wrapf(err, "crash %s", crashID)
	}

	names, err := dumpNamesJSON(dumps)
	if err != nil {
		return err
	}
	namesPath, err := s.path(crashID, "dump_names", crashID+".json")
	if err != nil {
		return err
	}
	if err := writeFile(namesPath, names); err != nil {
		return err
	}

	for name, data := range dumps {
		path, err := s.path(crashID, dumpKeyName(name, s.dumpField), crashID)
		if err != nil {
			return err
		}
		if err := writeFile(path, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSCrashStorage) SaveRawCrash(_ context.Context, crashID string, raw domain.RawCrash) error {
	path, err := s.path(crashID, "raw_crash", crashID+".json")
	if err != nil {
		return err
	}

	data, err := rawCrashJSON(raw)
	if err != nil {
		return err
	}
	if err := writeFile(path, data); err != nil {
		return err
	}
	s.log.Debug("fs: saved raw crash", zap.String("crash_id", crashID), zap.String("path", path))
	return nil
}

func (s *FSCrashStorage) CheckHealth(_ context.Context, state *domain.HealthState) {
	info, err := os.Stat(s.root)
	if err != nil {
		state.AddError("FSCrashStorage", err.Error())
		return
	}
	if !info.IsDir() {
		state.AddError("FSCrashStorage", s.root+" is not a directory")
	}
}

// writeFile writes through a temp file so readers never see partial data.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}
