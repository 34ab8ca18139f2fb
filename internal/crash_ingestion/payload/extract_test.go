package payload

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/crashstats/antenna/internal/crash_ingestion/crashtest"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/crashstats/antenna/internal/metrics"
	"github.com/crashstats/antenna/internal/metrics/metricstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const dumpField = "upload_file_minidump"

func newExtractor() *Extractor {
	return NewExtractor(dumpField, metrics.New(nil, "test"), zap.NewNop())
}

func newRecordingExtractor(t *testing.T) (*Extractor, *metricstest.Recorder) {
	m, rec := metricstest.New(t, "breakpad_resource")
	return NewExtractor(dumpField, m, zap.NewNop()), rec
}

func basicPayload() crashtest.Payload {
	return crashtest.Payload{
		Fields: map[string]string{
			"ProductName": "Firefox",
			"Version":     "1.0",
		},
		Dumps: map[string][]byte{
			"upload_file_minidump": []byte("abcd1234"),
		},
	}
}

func TestExtract_Uncompressed(t *testing.T) {
	e, rec := newRecordingExtractor(t)
	req := basicPayload().Request("/submit", false)
	length := req.ContentLength

	raw, dumps := e.Extract(req)

	assert.Equal(t, "Firefox", raw["ProductName"])
	assert.Equal(t, "1.0", raw["Version"])
	assert.Equal(t, map[string]string{
		"upload_file_minidump": "e19d5cd5af0378da05f63f891c7467af",
	}, raw[domain.KeyDumpChecksums])
	assert.Equal(t, domain.Dumps{"upload_file_minidump": []byte("abcd1234")}, dumps)

	assert.Equal(t, uint64(1), rec.HistogramCount("crash_size.uncompressed"))
	assert.Equal(t, float64(length), rec.HistogramSum("crash_size.uncompressed"))
	assert.Zero(t, rec.HistogramCount("crash_size.compressed"))
	assert.Zero(t, rec.Counter("gzipped_crash"))
}

func TestExtract_Gzipped(t *testing.T) {
	e, rec := newRecordingExtractor(t)
	req := basicPayload().Request("/submit", true)
	origLength := req.ContentLength

	raw, dumps := e.Extract(req)

	assert.Equal(t, "Firefox", raw["ProductName"])
	assert.Contains(t, dumps, "upload_file_minidump")
	assert.Equal(t, origLength, mustAtoi(t, req.Header.Get(OrigContentLengthHeader)))
	assert.NotEqual(t, origLength, req.ContentLength)

	assert.Equal(t, int64(1), rec.Counter("gzipped_crash"))
	assert.Zero(t, rec.Counter("bad_gzipped_crash"))
	assert.Equal(t, uint64(1), rec.HistogramCount("crash_size.compressed"))
	assert.Equal(t, float64(req.ContentLength), rec.HistogramSum("crash_size.compressed"))
	assert.Zero(t, rec.HistogramCount("crash_size.uncompressed"))
}

func TestExtract_BadGzip(t *testing.T) {
	body, contentType := basicPayload().Multipart()
	req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Encoding", "gzip")

	e, rec := newRecordingExtractor(t)
	raw, dumps := e.Extract(req)
	assert.Empty(t, raw)
	assert.Empty(t, dumps)

	assert.Equal(t, int64(1), rec.Counter("gzipped_crash"))
	assert.Equal(t, int64(1), rec.Counter("bad_gzipped_crash"))
	assert.Zero(t, rec.HistogramCount("crash_size.compressed"))
}

func TestExtract_EmptyCrashes(t *testing.T) {
	body, contentType := basicPayload().Multipart()

	tests := []struct {
		name        string
		contentType string
		body        []byte
	}{
		{"no content type", "", body},
		{"wrong content type", "application/json", body},
		{"no boundary", "multipart/form-data", body},
		{"boundary not first", "multipart/form-data; charset=utf-8", body},
		{"no content", contentType, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			raw, dumps := newExtractor().Extract(req)
			assert.Empty(t, raw)
			assert.Empty(t, dumps)
		})
	}
}

func TestExtract_SkipsDumpChecksumsAndDeNulls(t *testing.T) {
	p := crashtest.Payload{
		Fields: map[string]string{
			"dump_checksums": `{"upload_file_minidump": "bogus"}`,
			"ProductName":    "Fire\x00fox",
			"Empty":          "",
		},
	}

	raw, dumps := newExtractor().Extract(p.Request("/submit", false))

	assert.Equal(t, "Firefox", raw["ProductName"])
	assert.Equal(t, "", raw["Empty"])
	assert.NotContains(t, raw, domain.KeyDumpChecksums)
	assert.Empty(t, dumps)
}

func TestExtract_MultipleDumps(t *testing.T) {
	p := crashtest.Payload{
		Dumps: map[string][]byte{
			"upload_file_minidump":         []byte("main"),
			"upload_file_minidump_browser": []byte("browser"),
		},
	}

	raw, dumps := newExtractor().Extract(p.Request("/submit", false))

	require.Len(t, dumps, 2)
	checksums, ok := raw[domain.KeyDumpChecksums].(map[string]string)
	require.True(t, ok)
	assert.Len(t, checksums, 2)
}

func TestExtract_DropsUnusableDumpNames(t *testing.T) {
	for _, name := range []string{"../../escaped", "dump_names", "raw_crash", "dump", "..", "evil name"} {
		t.Run(name, func(t *testing.T) {
			p := basicPayload()
			p.Dumps[name] = []byte("payload")

			raw, dumps := newExtractor().Extract(p.Request("/submit", false))

			assert.Equal(t, domain.Dumps{"upload_file_minidump": []byte("abcd1234")}, dumps)
			checksums, ok := raw[domain.KeyDumpChecksums].(map[string]string)
			require.True(t, ok)
			assert.NotContains(t, checksums, name)
			assert.Equal(t, "Firefox", raw["ProductName"])
		})
	}
}

func TestDeNull(t *testing.T) {
	assert.Equal(t, "abc", DeNull("a\x00b\x00c"))
	assert.Equal(t, "", DeNull("\x00"))
}

func mustAtoi(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}
