package crashstorage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCrashID = "de1bb258-cbbf-4589-a673-34f800160918"

func testCrash() (domain.RawCrash, domain.Dumps) {
	raw := domain.RawCrash{
		"ProductName": "Firefox",
		"uuid":        testCrashID,
		"dump_checksums": map[string]string{
			"upload_file_minidump": "e19d5cd5af0378da05f63f891c7467af",
		},
	}
	dumps := domain.Dumps{
		"upload_file_minidump":         []byte("abcd1234"),
		"upload_file_minidump_browser": []byte("browser"),
	}
	return raw, dumps
}

func TestNoop_RemembersRecentCrashes(t *testing.T) {
	s := NewNoop(zap.NewNop())
	ctx := context.Background()
	raw, dumps := testCrash()

	require.NoError(t, s.SaveDumps(ctx, testCrashID, dumps))
	require.NoError(t, s.SaveRawCrash(ctx, testCrashID, raw))

	saved := s.Saved()
	require.Len(t, saved, 1)
	assert.Equal(t, testCrashID, saved[0].CrashID)
	assert.Equal(t, raw, saved[0].RawCrash)
	assert.Equal(t, dumps, saved[0].Dumps)

	for i := 0; i < noopKeep+5; i++ {
		require.NoError(t, s.SaveRawCrash(ctx, string(rune('a'+i)), raw))
	}
	assert.Len(t, s.Saved(), noopKeep)
}

func TestFS_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFS(root, "upload_file_minidump", zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	raw, dumps := testCrash()
	require.NoError(t, s.SaveDumps(ctx, testCrashID, dumps))
	require.NoError(t, s.SaveRawCrash(ctx, testCrashID, raw))

	day := filepath.Join(root, "20160918")

	names, err := os.ReadFile(filepath.Join(day, "dump_names", testCrashID+".json"))
	require.NoError(t, err)
	assert.JSONEq(t, `["upload_file_minidump","upload_file_minidump_browser"]`, string(names))

	dump, err := os.ReadFile(filepath.Join(day, "dump", testCrashID))
	require.NoError(t, err)
	assert.Equal(t, "abcd1234", string(dump))

	browser, err := os.ReadFile(filepath.Join(day, "upload_file_minidump_browser", testCrashID))
	require.NoError(t, err)
	assert.Equal(t, "browser", string(browser))

	data, err := os.ReadFile(filepath.Join(day, "raw_crash", testCrashID+".json"))
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Firefox", got["ProductName"])

	state := domain.NewHealthState()
	s.CheckHealth(ctx, state)
	assert.True(t, state.IsHealthy())
}

func TestFS_CheckHealthMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "crashes")
	s, err := NewFS(root, "upload_file_minidump", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))

	state := domain.NewHealthState()
	s.CheckHealth(context.Background(), state)
	assert.False(t, state.IsHealthy())
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestS3_KeyLayout(t *testing.T) {
	client := newFakeS3()
	s := NewS3WithClient(client, "crashes", "upload_file_minidump", zap.NewNop())

	ctx := context.Background()
	raw, dumps := testCrash()
	require.NoError(t, s.SaveDumps(ctx, testCrashID, dumps))
	require.NoError(t, s.SaveRawCrash(ctx, testCrashID, raw))

	keys := make([]string, 0, len(client.objects))
	for k := range client.objects {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"crashes/v1/dump_names/" + testCrashID,
		"crashes/v1/dump/" + testCrashID,
		"crashes/v1/upload_file_minidump_browser/" + testCrashID,
		"crashes/v2/raw_crash/de1/20160918/" + testCrashID,
	}, keys)

	assert.Equal(t, "abcd1234", string(client.objects["crashes/v1/dump/"+testCrashID]))
	assert.JSONEq(t,
		`{"ProductName":"Firefox","uuid":"`+testCrashID+`","dump_checksums":{"upload_file_minidump":"e19d5cd5af0378da05f63f891c7467af"}}`,
		string(client.objects["crashes/v2/raw_crash/de1/20160918/"+testCrashID]),
	)
}

func TestS3_VerifyWriteAndHealth(t *testing.T) {
	client := newFakeS3()
	s := NewS3WithClient(client, "crashes", "upload_file_minidump", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.VerifyWriteToBucket(ctx))
	assert.Contains(t, client.objects, "crashes/test/antenna_write_check")

	state := domain.NewHealthState()
	s.CheckHealth(ctx, state)
	assert.True(t, state.IsHealthy())

	client.headErr = errors.New("no such bucket")
	state = domain.NewHealthState()
	s.CheckHealth(ctx, state)
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "S3CrashStorage")
}

func TestS3_PutErrorsPropagate(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("connection reset")
	s := NewS3WithClient(client, "crashes", "upload_file_minidump", zap.NewNop())

	raw, dumps := testCrash()
	assert.Error(t, s.SaveDumps(context.Background(), testCrashID, dumps))
	assert.Error(t, s.SaveRawCrash(context.Background(), testCrashID, raw))
	assert.Error(t, s.VerifyWriteToBucket(context.Background()))
}

func TestFS_RefusesUnsafeDumpNames(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "crashes")
	s, err := NewFS(root, "upload_file_minidump", zap.NewNop())
	require.NoError(t, err)

	for _, name := range []string{"../../escaped", "../escaped", "dump_names", "raw_crash", "dump"} {
		t.Run(name, func(t *testing.T) {
			dumps := domain.Dumps{
				"upload_file_minidump": []byte("abcd1234"),
				name:                   []byte("garbage"),
			}

			err := s.SaveDumps(context.Background(), testCrashID, dumps)
			assert.ErrorIs(t, err, domain.ErrInvalidDumpName)
		})
	}

	var written []string
	require.NoError(t, filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			written = append(written, path)
		}
		return err
	}))
	assert.Empty(t, written)
}

func TestFS_RefusesCrashIDOutsideRoot(t *testing.T) {
	s, err := NewFS(t.TempDir(), "upload_file_minidump", zap.NewNop())
	require.NoError(t, err)

	err = s.SaveRawCrash(context.Background(), "../../../../../../tmp/x/123456", domain.RawCrash{})
	assert.ErrorIs(t, err, domain.ErrInvalidDumpName)
}

func TestS3_RefusesReservedDumpNames(t *testing.T) {
	client := newFakeS3()
	s := NewS3WithClient(client, "crashes", "upload_file_minidump", zap.NewNop())

	for _, name := range []string{"dump_names", "raw_crash", "dump", "../v2/raw_crash"} {
		t.Run(name, func(t *testing.T) {
			dumps := domain.Dumps{
				"upload_file_minidump": []byte("abcd1234"),
				name:                   []byte("garbage"),
			}

			err := s.SaveDumps(context.Background(), testCrashID, dumps)
			assert.ErrorIs(t, err, domain.ErrInvalidDumpName)
		})
	}
	assert.Empty(t, client.objects)
}
