package reqverify

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Requirement is one dependency entry of a pip requirements file.
type Requirement struct {
	Name    string
	Version string
	Hashes  []string

	// Line and EndLine are the 1-based physical lines the entry spans.
	Line    int
	EndLine int
}

// Pinned reports whether the entry names an exact version.
func (r Requirement) Pinned() bool {
	return r.Version != ""
}

type Manifest struct {
	Requirements []Requirement
}

func ParseManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open manifest %s", path)
	}
	defer f.Close()

	m, err := ParseManifest(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse manifest %s", path)
	}
	return m, nil
}

// ParseManifest reads requirements in pip's format: one `name==version`
// entry per logical line, `\` continuations, `--hash=` options and `#`
// comments. Global options such as `-r` or `--index-url` are ignored.
func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		logical   strings.Builder
		startLine int
		lineNo    int
	)

	flush := func() {
		line := strings.TrimSpace(logical.String())
		logical.Reset()
		if line == "" {
			return
		}
		if req, ok := parseRequirement(line); ok {
			req.Line = startLine
			req.EndLine = lineNo
			m.Requirements = append(m.Requirements, req)
		}
	}

	for sc.Scan() {
		lineNo++
		text := stripComment(sc.Text())
		if logical.Len() == 0 {
			startLine = lineNo
		}

		trimmed := strings.TrimRight(text, " \t")
		if strings.HasSuffix(trimmed, "\\") {
			logical.WriteString(strings.TrimSuffix(trimmed, "\\"))
			logical.WriteByte(' ')
			continue
		}
		logical.WriteString(trimmed)
		flush()
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	flush()

	return m, nil
}

func stripComment(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return ""
	}
	if i := strings.Index(line, " #"); i >= 0 {
		return line[:i]
	}
	return line
}

func parseRequirement(line string) (Requirement, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "-") {
		return Requirement{}, false
	}

	// Environment markers may contain spaces; they never carry the pin.
	spec := fields[0]
	if i := strings.Index(spec, ";"); i >= 0 {
		spec = spec[:i]
	}

	var req Requirement
	if i := strings.Index(spec, "=="); i >= 0 {
		req.Name = spec[:i]
		req.Version = strings.TrimPrefix(spec[i+2:], "=")
	} else {
		req.Name = spec
		if i := strings.IndexAny(spec, "<>!~="); i >= 0 {
			req.Name = spec[:i]
		}
	}
	if i := strings.Index(req.Name, "["); i >= 0 {
		req.Name = req.Name[:i]
	}
	req.Name = strings.ToLower(strings.TrimSpace(req.Name))

	for _, f := range fields[1:] {
		if h, ok := strings.CutPrefix(f, "--hash="); ok {
			req.Hashes = append(req.Hashes, h)
		}
	}

	return req, req.Name != ""
}

// Unpinned returns the names of entries without an exact version, sorted.
func (m *Manifest) Unpinned() []string {
	var out []string
	for _, r := range m.Requirements {
		if !r.Pinned() {
			out = append(out, r.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Unhashed returns pinned entries without hashes when at least one entry in
// the manifest carries hashes. pip refuses to install a partially hashed
// file.
func (m *Manifest) Unhashed() []string {
	hashed := false
	for _, r := range m.Requirements {
		if len(r.Hashes) > 0 {
			hashed = true
			break
		}
	}
	if !hashed {
		return nil
	}

	var out []string
	for _, r := range m.Requirements {
		if r.Pinned() && len(r.Hashes) == 0 {
			out = append(out, r.Name)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns the entry for name, matched case-insensitively.
func (m *Manifest) Lookup(name string) (Requirement, bool) {
	name = strings.ToLower(name)
	for _, r := range m.Requirements {
		if r.Name == name {
			return r, true
		}
	}
	return Requirement{}, false
}
