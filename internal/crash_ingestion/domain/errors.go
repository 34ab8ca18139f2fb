package domain

import "github.com/cockroachdb/errors"

var (
	ErrInvalidCrashID  = errors.New("invalid crash id")
	ErrInvalidDumpName = errors.New("invalid dump name")
	ErrBadGzip         = errors.New("bad gzipped crash payload")
	ErrPipelineStopped = errors.New("save pipeline is shut down")
)
