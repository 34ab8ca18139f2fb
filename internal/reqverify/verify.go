// Package reqverify checks that a committed pip lockfile is exactly what
// the resolver produces from its source manifest.
package reqverify

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pmezard/go-difflib/difflib"
)

var ErrLockfileMismatch = errors.New("lockfile does not match its source manifest")

const (
	DefaultSource   = "requirements.in"
	DefaultLockfile = "requirements.txt"

	// DefaultResolver regenerates the lockfile with hashes. {output} and
	// {source} are replaced before the command runs.
	DefaultResolver = "pip-compile --quiet --generate-hashes --output-file {output} {source}"
)

type Options struct {
	Source   string
	Lockfile string
	Resolver string

	// Dir is the resolver's working directory. Empty means the current one.
	Dir string
	// ResolverOutput receives the resolver's stdout and stderr.
	ResolverOutput io.Writer
}

func (o *Options) setDefaults() {
	if o.Source == "" {
		o.Source = DefaultSource
	}
	if o.Lockfile == "" {
		o.Lockfile = DefaultLockfile
	}
	if o.Resolver == "" {
		o.Resolver = DefaultResolver
	}
	if o.ResolverOutput == nil {
		o.ResolverOutput = io.Discard
	}
}

// Result holds the unified diff between the committed and the regenerated
// lockfile. Diff is empty when they match.
type Result struct {
	Diff string
}

// Verify regenerates the lockfile into a scratch copy and diffs it against
// the committed one. A non-empty diff is returned together with
// ErrLockfileMismatch.
func Verify(ctx context.Context, opts Options) (*Result, error) {
	opts.setDefaults()

	committed, err := os.ReadFile(opts.Lockfile)
	if err != nil {
		return nil, errors.Wrapf(err, "read lockfile %s", opts.Lockfile)
	}
	if _, err := os.Stat(opts.Source); err != nil {
		return nil, errors.Wrapf(err, "source manifest %s", opts.Source)
	}

	tmpDir, err := os.MkdirTemp("", "reqverify-")
	if err != nil {
		return nil, errors.Wrap(err, "create scratch dir")
	}
	defer os.RemoveAll(tmpDir)

	// The resolver keeps existing pins from the output file, so start from
	// the committed lockfile rather than an empty one.
	output := filepath.Join(tmpDir, filepath.Base(opts.Lockfile))
	if err := os.WriteFile(output, committed, 0o644); err != nil {
		return nil, errors.Wrap(err, "copy lockfile")
	}

	if err := runResolver(ctx, opts, output); err != nil {
		return nil, err
	}

	regenerated, err := os.ReadFile(output)
	if err != nil {
		return nil, errors.Wrap(err, "read regenerated lockfile")
	}
	// Resolver headers echo the output path; report it as the committed one.
	regenerated = bytes.ReplaceAll(regenerated, []byte(output), []byte(opts.Lockfile))

	diff, err := unifiedDiff(string(committed), string(regenerated), opts.Lockfile, opts.Lockfile+" (regenerated)")
	if err != nil {
		return nil, err
	}

	res := &Result{Diff: diff}
	if diff != "" {
		return res, ErrLockfileMismatch
	}
	return res, nil
}

func runResolver(ctx context.Context, opts Options, output string) error {
	args := strings.Fields(opts.Resolver)
	if len(args) == 0 {
		return errors.New("empty resolver command")
	}
	for i, a := range args {
		a = strings.ReplaceAll(a, "{output}", output)
		args[i] = strings.ReplaceAll(a, "{source}", opts.Source)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = opts.Dir
	cmd.Stdout = opts.ResolverOutput
	cmd.Stderr = opts.ResolverOutput

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "resolver %q", args[0])
	}
	return nil
}

// CheckPinned verifies a lockfile without running the resolver: every entry
// must be pinned, and hashed when the file uses hashes. Offending lines
// show up as removals in the returned diff.
func CheckPinned(lockfile string) (*Result, error) {
	raw, err := os.ReadFile(lockfile)
	if err != nil {
		return nil, errors.Wrapf(err, "read lockfile %s", lockfile)
	}

	m, err := ParseManifest(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "parse lockfile %s", lockfile)
	}

	bad := make(map[int]bool)
	for _, name := range append(m.Unpinned(), m.Unhashed()...) {
		if r, ok := m.Lookup(name); ok {
			for l := r.Line; l <= r.EndLine; l++ {
				bad[l] = true
			}
		}
	}
	if len(bad) == 0 {
		return &Result{}, nil
	}

	lines := strings.SplitAfter(string(raw), "\n")
	var kept []string
	for i, l := range lines {
		if !bad[i+1] {
			kept = append(kept, l)
		}
	}

	diff, err := unifiedDiff(string(raw), strings.Join(kept, ""), lockfile, lockfile+" (pinned)")
	if err != nil {
		return nil, err
	}
	return &Result{Diff: diff}, ErrLockfileMismatch
}

func unifiedDiff(a, b, fromFile, toFile string) (string, error) {
	if a == b {
		return "", nil
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	})
	if err != nil {
		return "", errors.Wrap(err, "diff lockfiles")
	}
	return diff, nil
}
