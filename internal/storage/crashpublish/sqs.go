package crashpublish

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cockroachdb/errors"
	"github.com/crashstats/antenna/internal/crash_ingestion/domain"
	"go.uber.org/zap"
)

// SQSAPI is the subset of the SQS client used for publishing.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

type SQSOptions struct {
	QueueURL    string
	Region      string
	EndpointURL string
}

type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	log      *zap.Logger
}

func NewSQS(ctx context.Context, opt SQSOptions, log *zap.Logger) (*SQSPublisher, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(opt.Region))
	if err != nil {
		return nil, errors.Wrap(err, "aws config load")
	}

	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if opt.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opt.EndpointURL)
		}
	})

	return NewSQSWithClient(client, opt.QueueURL, log), nil
}

func NewSQSWithClient(client SQSAPI, queueURL string, log *zap.Logger) *SQSPublisher {
	return &SQSPublisher{client: client, queueURL: queueURL, log: log}
}

func (p *SQSPublisher) Publish(ctx context.Context, crashID string) error {
	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(crashID),
	})
	if err != nil {
		return errors.Wrapf(err, "sqs publish %s", crashID)
	}

	p.log.Debug("sqs: published crash",
		zap.String("crash_id", crashID),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

func (p *SQSPublisher) CheckHealth(ctx context.Context, state *domain.HealthState) {
	out, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		state.AddError("SQSPublisher", err.Error())
		return
	}
	if n, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]; ok {
		state.SetInfo("sqs_queue_depth", n)
	}
}
