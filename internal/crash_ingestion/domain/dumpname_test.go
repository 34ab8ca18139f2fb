package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckDumpName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"upload_file_minidump", true},
		{"upload_file_minidump_browser", true},
		{"memory_report.json.gz", true},
		{"", false},
		{"..", false},
		{"../../escaped", false},
		{"a/b", false},
		{`a\b`, false},
		{"a..b", false},
		{"dump name", false},
		{"dump_names", false},
		{"raw_crash", false},
		{"dump", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckDumpName(tt.name, "upload_file_minidump")
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidDumpName)
			}
		})
	}
}

func TestCheckDumpName_MainFieldMayUseReservedName(t *testing.T) {
	assert.NoError(t, CheckDumpName("dump", "dump"))
	assert.ErrorIs(t, CheckDumpName("dump_names", "dump"), ErrInvalidDumpName)
}

func TestCheckDumpNames(t *testing.T) {
	assert.NoError(t, CheckDumpNames(Dumps{"upload_file_minidump": nil, "extra": nil}, "upload_file_minidump"))
	assert.ErrorIs(t, CheckDumpNames(Dumps{"upload_file_minidump": nil, "dump_names": nil}, "upload_file_minidump"), ErrInvalidDumpName)
}
