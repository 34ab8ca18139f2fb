// Package payload turns a breakpad crash report POST body into a raw crash
// and its dumps.
package payload

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/crashstats/antenna/internal/metrics"
	"go.uber.org/zap"
)

// OrigContentLengthHeader carries the on-the-wire length of a gzipped
// payload after the request's ContentLength is corrected.
const OrigContentLengthHeader = "X-Orig-Content-Length"

type Extractor struct {
	dumpField string
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewExtractor returns an extractor for payloads whose main dump is sent in
// the dumpField form field.
func NewExtractor(dumpField string, m *metrics.Metrics, log *zap.Logger) *Extractor {
	return &Extractor{dumpField: dumpField, metrics: m, log: log}
}

// Extract parses r's multipart/form-data body, decompressing it first when
// it is gzip encoded. Anything unparseable yields an empty crash rather than
// an error: the collector still answers the client.
func (e *Extractor) Extract(r *http.Request) (domain.RawCrash, domain.Dumps) {
	ctx := r.Context()
	raw, dumps := domain.RawCrash{}, domain.Dumps{}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return raw, dumps
	}

	parts := strings.SplitN(contentType, ";", 2)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) != 2 || parts[0] != "multipart/form-data" || !strings.HasPrefix(parts[1], "boundary=") {
		return raw, dumps
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["boundary"] == "" {
		return raw, dumps
	}

	contentLength := r.ContentLength
	if contentLength <= 0 {
		return raw, dumps
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, contentLength))
	if err != nil {
		e.log.Warn("failed to read crash payload", zap.Error(err))
		return raw, dumps
	}

	if r.Header.Get("Content-Encoding") == "gzip" {
		e.metrics.Incr(ctx, "gzipped_crash")

		data, err := gunzip(body)
		if err != nil {
			// The request insists this is gzip. It isn't, so it's junk.
			e.metrics.Incr(ctx, "bad_gzipped_crash")
			return raw, dumps
		}

		r.Header.Set(OrigContentLengthHeader, strconv.FormatInt(contentLength, 10))
		r.ContentLength = int64(len(data))
		body = data

		e.metrics.Histogram(ctx, "crash_size.compressed", float64(len(data)))
	} else {
		e.metrics.Histogram(ctx, "crash_size.uncompressed", float64(contentLength))
	}

	e.walkForm(multipart.NewReader(bytes.NewReader(body), params["boundary"]), raw, dumps)
	return raw, dumps
}

func (e *Extractor) walkForm(mr *multipart.Reader, raw domain.RawCrash, dumps domain.Dumps) {
	var checksums map[string]string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.log.Warn("malformed multipart payload", zap.Error(err))
			break
		}

		name := part.FormName()
		value, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			e.log.Warn("failed to read form field", zap.String("field", name), zap.Error(err))
			break
		}

		switch {
		case name == "":
			continue

		case name == domain.KeyDumpChecksums:
			// Don't pick up checksums from a resubmitted raw crash.
			continue

		case isDump(part):
			// Dump names become storage keys and paths.
			if err := domain.CheckDumpName(name, e.dumpField); err != nil {
				e.log.Warn("dropping dump with unusable name", zap.Error(err))
				continue
			}
			dumps[name] = value
			if checksums == nil {
				checksums = map[string]string{}
				raw[domain.KeyDumpChecksums] = checksums
			}
			sum := md5.Sum(value)
			checksums[name] = hex.EncodeToString(sum[:])

		default:
			raw[name] = DeNull(string(value))
		}
	}
}

func isDump(part *multipart.Part) bool {
	return part.FileName() != "" || strings.HasPrefix(part.Header.Get("Content-Type"), "application/octet-stream")
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.ErrBadGzip
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, domain.ErrBadGzip
	}
	return out, nil
}

// DeNull removes NUL characters.
func DeNull(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
