package domain

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

var dumpNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Storage layout names a client dump must not take over. The main dump
// field is stored as "dump" and is the only name allowed to use it.
var reservedDumpNames = map[string]struct{}{
	"dump":       {},
	"dump_names": {},
	"raw_crash":  {},
}

// CheckDumpName returns ErrInvalidDumpName unless name can be used as a
// single storage path segment. dumpField is the main dump field name.
func CheckDumpName(name, dumpField string) error {
	if name == "" || !dumpNameRe.MatchString(name) || strings.Contains(name, "..") {
		return errors.Wrapf(ErrInvalidDumpName, "%q", name)
	}
	if name == dumpField {
		return nil
	}
	if _, ok := reservedDumpNames[name]; ok {
		return errors.Wrapf(ErrInvalidDumpName, "%q is reserved", name)
	}
	return nil
}

// CheckDumpNames checks every name in dumps.
func CheckDumpNames(dumps Dumps, dumpField string) error {
	for name := range dumps {
		if err := CheckDumpName(name, dumpField); err != nil {
			return err
		}
	}
	return nil
}
