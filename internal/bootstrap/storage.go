package bootstrap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/config"
	"github.com/crashstats/antenna/internal/storage/crashpublish"
	"github.com/crashstats/antenna/internal/storage/crashstorage"
	"go.uber.org/zap"
)

// OpenCrashStorage builds the configured crash storage. S3 storage verifies
// it can write to the bucket before it is returned.
func OpenCrashStorage(ctx context.Context, cfg config.CrashStorageConfig, dumpField string, log *zap.Logger) (crashstorage.CrashStorage, error) {
	switch cfg.Class {
	case config.StorageNoop:
		return crashstorage.NewNoop(log), nil
	case config.StorageFS:
		return crashstorage.NewFS(cfg.FSRoot, dumpField, log)
	case config.StorageS3:
		s3, err := crashstorage.NewS3(ctx, crashstorage.S3Options{
			Bucket:      cfg.BucketName,
			Region:      cfg.Region,
			EndpointURL: cfg.EndpointURL,
			DumpField:   dumpField,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := s3.VerifyWriteToBucket(ctx); err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, errors.Newf("unknown crash storage class %q", cfg.Class)
	}
}

// OpenPublisher builds the configured crash publisher.
func OpenPublisher(ctx context.Context, cfg config.CrashPublishConfig, log *zap.Logger) (crashpublish.Publisher, error) {
	switch cfg.Class {
	case config.PublishNoop:
		return crashpublish.NewNoop(log), nil
	case config.PublishSQS:
		return crashpublish.NewSQS(ctx, crashpublish.SQSOptions{
			QueueURL:    cfg.QueueURL,
			Region:      cfg.Region,
			EndpointURL: cfg.EndpointURL,
		}, log)
	case config.PublishRedis:
		return crashpublish.NewRedis(cfg.RedisURL, cfg.RedisKey, log)
	default:
		return nil, errors.Newf("unknown crash publisher class %q", cfg.Class)
	}
}
