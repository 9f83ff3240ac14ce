// Package sqs provides the AWS SQS implementation of the remote queue service
package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/masayang/sqsd/internal/queue"
)

// SQS limits receive batches to 10 messages and long polling to 20 seconds.
const (
	MaxBatchSize             = 10
	MaxWaitTimeSeconds       = 20
	defaultWaitSeconds       = 20
	defaultVisibilitySeconds = 120
)

// SQSClientAPI defines the interface for SQS client operations (for testing)
type SQSClientAPI interface {
	ListQueues(ctx context.Context, params *awssqs.ListQueuesInput, optFns ...func(*awssqs.Options)) (*awssqs.ListQueuesOutput, error)
	GetQueueUrl(ctx context.Context, params *awssqs.GetQueueUrlInput, optFns ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *awssqs.ReceiveMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *awssqs.DeleteMessageInput, optFns ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
}

// Config holds SQS client configuration
type Config struct {
	// Region is the AWS region; empty falls back to the ambient AWS config
	Region string

	// WaitTimeSeconds is the long-poll ceiling for receive calls
	WaitTimeSeconds int32

	// VisibilityTimeout applies to every received message
	VisibilityTimeout int32

	// CustomEndpoint is used for LocalStack/testing
	CustomEndpoint string

	// AccessKeyID and SecretAccessKey override the ambient credential chain
	// (optional, mainly for testing)
	AccessKeyID     string
	SecretAccessKey string
}

// Client implements queue.Service against AWS SQS
type Client struct {
	sqs    SQSClientAPI
	config *Config
}

// NewClient creates a new SQS-backed queue service
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = defaultWaitSeconds
	}
	if cfg.WaitTimeSeconds > MaxWaitTimeSeconds {
		cfg.WaitTimeSeconds = MaxWaitTimeSeconds
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = defaultVisibilitySeconds
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := awssqs.NewFromConfig(awsCfg, func(o *awssqs.Options) {
		if cfg.CustomEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.CustomEndpoint)
		}
	})

	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}

	return &Client{sqs: sqsClient, config: cfg}, nil
}

// NewClientWithAPI creates a client around an existing SQS API (for testing)
func NewClientWithAPI(api SQSClientAPI, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.WaitTimeSeconds == 0 {
		cfg.WaitTimeSeconds = defaultWaitSeconds
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = defaultVisibilitySeconds
	}
	return &Client{sqs: api, config: cfg}
}

// ListQueues returns all queues whose name starts with prefix
func (c *Client) ListQueues(ctx context.Context, prefix string) ([]queue.Queue, error) {
	input := &awssqs.ListQueuesInput{}
	if prefix != "" {
		input.QueueNamePrefix = aws.String(prefix)
	}

	var queues []queue.Queue
	paginator := awssqs.NewListQueuesPaginator(c.sqs, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to list queues: %w", err))
		}
		for _, url := range page.QueueUrls {
			queues = append(queues, queue.Queue{
				Name:   queueNameFromURL(url),
				URL:    url,
				Region: c.config.Region,
			})
		}
	}

	return queues, nil
}

// GetQueue resolves a queue by exact name
func (c *Client) GetQueue(ctx context.Context, name string) (queue.Queue, error) {
	out, err := c.sqs.GetQueueUrl(ctx, &awssqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		var notFound *types.QueueDoesNotExist
		if errors.As(err, &notFound) {
			return queue.Queue{}, fmt.Errorf("%q: %w", name, queue.ErrQueueNotFound)
		}
		return queue.Queue{}, classify(fmt.Errorf("failed to resolve queue %q: %w", name, err))
	}

	return queue.Queue{
		Name:   name,
		URL:    aws.ToString(out.QueueUrl),
		Region: c.config.Region,
	}, nil
}

// ReceiveBatch receives up to max messages using long polling
func (c *Client) ReceiveBatch(ctx context.Context, q queue.Queue, max int) ([]queue.Message, error) {
	if max <= 0 || max > MaxBatchSize {
		max = MaxBatchSize
	}

	out, err := c.sqs.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.URL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     c.config.WaitTimeSeconds,
		VisibilityTimeout:   c.config.VisibilityTimeout,
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to receive from %q: %w", q.Name, err))
	}

	now := time.Now()
	messages := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, queue.Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
			Queue:         q,
			ReceivedAt:    now,
		})
	}

	return messages, nil
}

// Delete permanently removes a message from its queue
func (c *Client) Delete(ctx context.Context, q queue.Queue, receiptHandle string) error {
	_, err := c.sqs.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.URL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to delete from %q: %w", q.Name, err))
	}
	return nil
}

// HealthCheck verifies that the SQS service is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.sqs.ListQueues(ctx, &awssqs.ListQueuesInput{
		MaxResults: aws.Int32(1),
	})
	return err
}

// permanentCodes are API error codes that retrying cannot fix. A reader that
// hits one terminates instead of spinning on the same rejection.
var permanentCodes = map[string]struct{}{
	"AccessDenied":                            {},
	"AccessDeniedException":                   {},
	"InvalidClientTokenId":                    {},
	"UnrecognizedClientException":             {},
	"InvalidAddress":                          {},
	"InvalidSecurity":                         {},
	"AWS.SimpleQueueService.NonExistentQueue": {},
	"QueueDoesNotExist":                       {},
}

// classify wraps permanent API failures in queue.PermanentError
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := permanentCodes[apiErr.ErrorCode()]; ok {
			return &queue.PermanentError{Err: err}
		}
	}
	var notFound *types.QueueDoesNotExist
	if errors.As(err, &notFound) {
		return &queue.PermanentError{Err: err}
	}
	return err
}

// queueNameFromURL extracts the queue name from an SQS queue URL
// (https://sqs.<region>.amazonaws.com/<account>/<name>)
func queueNameFromURL(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	log.Warn().Str("url", url).Msg("Queue URL has no path component")
	return url
}
