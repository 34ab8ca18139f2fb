package crashstorage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/crashid"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client used for crash storage.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type S3Options struct {
	Bucket      string
	Region      string
	EndpointURL string
	DumpField   string
}

// S3CrashStorage saves crashes to an S3 bucket using the keys:
//
//	v2/raw_crash/<entropy>/<YYYYMMDD>/<crash_id>
//	v1/dump_names/<crash_id>
//	v1/<dump_name>/<crash_id>
type S3CrashStorage struct {
	client    S3API
	bucket    string
	dumpField string
	log       *zap.Logger
}

// NewS3 builds an S3 client from the default AWS credential chain. An
// endpoint URL switches to path-style addressing for local S3 stand-ins.
func NewS3(ctx context.Context, opt S3Options, log *zap.Logger) (*S3CrashStorage, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(opt.Region))
	if err != nil {
		return nil, errors.Wrap(err, "aws config load")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opt.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opt.EndpointURL)
			o.UsePathStyle = true
		}
	})

	return NewS3WithClient(client, opt.Bucket, opt.DumpField, log), nil
}

func NewS3WithClient(client S3API, bucket, dumpField string, log *zap.Logger) *S3CrashStorage {
	return &S3CrashStorage{
		client:    client,
		bucket:    bucket,
		dumpField: dumpField,
		log:       log,
	}
}

// VerifyWriteToBucket writes a small object to prove the credentials can
// write to the bucket. Call it at startup.
func (s *S3CrashStorage) VerifyWriteToBucket(ctx context.Context) error {
	if err := s.put(ctx, "test/antenna_write_check", []byte("test")); err != nil {
		return errors.Wrapf(err, "verify write to bucket %s", s.bucket)
	}
	return nil
}

func (s *S3CrashStorage) SaveDumps(ctx context.Context, crashID string, dumps domain.Dumps) error {
	if err := domain.CheckDumpNames(dumps, s.dumpField); err != nil {
		return errors.Wrapf(err, "crash %s", crashID)
	}

	names, err := dumpNamesJSON(dumps)
	if err != nil {
		return err
	}
	if err := s.put(ctx, "v1/dump_names/"+crashID, names); err != nil {
		return err
	}

	for name, data := range dumps {
		key := fmt.Sprintf("v1/%s/%s", dumpKeyName(name, s.dumpField), crashID)
		if err := s.put(ctx, key, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3CrashStorage) SaveRawCrash(ctx context.Context, crashID string, raw domain.RawCrash) error {
	date, err := crashid.Date(crashID)
	if err != nil {
		return errors.Wrapf(err, "crash id %q", crashID)
	}

	data, err := rawCrashJSON(raw)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("v2/raw_crash/%s/%s/%s", crashid.Entropy(crashID), date, crashID)
	return s.put(ctx, key, data)
}

func (s *S3CrashStorage) CheckHealth(ctx context.Context, state *domain.HealthState) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		state.AddError("S3CrashStorage", err.Error())
	}
}

func (s *S3CrashStorage) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return errors.Wrapf(err, "s3 put %s/%s", s.bucket, key)
	}
	s.log.Debug("s3: saved object", zap.String("bucket", s.bucket), zap.String("key", key))
	return nil
}
