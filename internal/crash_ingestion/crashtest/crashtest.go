// Package crashtest builds crash report payloads for tests.
package crashtest

import (
	"bytes"
	"compress/gzip"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
)

// Payload describes a crash report submission.
type Payload struct {
	Fields map[string]string
	Dumps  map[string][]byte
}

// Multipart encodes p as multipart/form-data and returns the body and its
// content type. Fields and dumps are written in sorted order.
func (p Payload) Multipart() ([]byte, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, k := range sortedKeys(p.Fields) {
		_ = w.WriteField(k, p.Fields[k])
	}

	dumpNames := make([]string, 0, len(p.Dumps))
	for k := range p.Dumps {
		dumpNames = append(dumpNames, k)
	}
	sort.Strings(dumpNames)
	for _, k := range dumpNames {
		fw, _ := w.CreateFormFile(k, k+".dmp")
		_, _ = fw.Write(p.Dumps[k])
	}

	_ = w.Close()
	return buf.Bytes(), w.FormDataContentType()
}

// Request builds a POST to path carrying p, gzip compressed when compress is
// set.
func (p Payload) Request(path string, compress bool) *http.Request {
	body, contentType := p.Multipart()
	if compress {
		body = Gzip(body)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	return req
}

// Gzip compresses data.
func Gzip(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
