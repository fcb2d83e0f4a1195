// Package shardstream implements C6, the partitioned stream that row-result
// envelopes are serialised onto. Ordering contract: within a partition
// (supplier_vaccineType), envelopes for a given message_id must arrive in
// strictly increasing row_index. This is realised as an SQS FIFO queue with
// MessageGroupId = partition key and MessageDeduplicationId = row_id, which
// gives exactly the ordering and at-least-once-with-dedup guarantees §1's
// Non-goals call for.
package shardstream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Diagnostic is a single row-level or infrastructure-level problem recorded
// against an envelope (§4.3, §7). Code "UNHANDLED" marks an infrastructure
// failure rather than a business-rule rejection.
type Diagnostic struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const DiagnosticCodeUnhandled = "UNHANDLED"

// Envelope is the row-result unit forwarded from C5 to C7/C8.
type Envelope struct {
	RowID        string       `json:"row_id"`
	FileKey      string       `json:"file_key"`
	MessageID    string       `json:"message_id"`
	RowIndex     int          `json:"row_index"`
	Partition    string       `json:"partition"`
	VaccineType  string       `json:"vaccine_type"`
	Supplier     string       `json:"supplier"`
	Action       string       `json:"action"`
	FHIRResource []byte       `json:"fhir_resource,omitempty"`
	Diagnostics  []Diagnostic `json:"diagnostics,omitempty"`
}

// Stream is the capability interface C6's publisher and C7/C8's consumer
// depend on.
type Stream interface {
	Publish(ctx context.Context, env Envelope) error
	Poll(ctx context.Context, partition string, max int32) ([]Envelope, error)
}

// SQSAPI is the narrow subset of the SQS client used.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSStream is the production Stream backed by an SQS FIFO queue.
type SQSStream struct {
	client   SQSAPI
	queueURL string
}

func NewSQSStream(client SQSAPI, queueURL string) *SQSStream {
	return &SQSStream{client: client, queueURL: queueURL}
}

func (s *SQSStream) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(s.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(env.Partition),
		MessageDeduplicationId: aws.String(env.RowID),
	})
	return err
}

func (s *SQSStream) Poll(ctx context.Context, partition string, max int32) ([]Envelope, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(s.queueURL),
		MaxNumberOfMessages:   max,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, err
	}

	envelopes := make([]Envelope, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var env Envelope
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &env); err != nil {
			continue
		}
		if env.Partition != partition {
			continue
		}
		envelopes = append(envelopes, env)
		_, _ = s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(s.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
	}
	return envelopes, nil
}

// InMemoryStream is a Stream implementation for tests that preserves
// per-partition, per-message_id row_index ordering exactly as the real FIFO
// queue would.
type InMemoryStream struct {
	mu         sync.Mutex
	partitions map[string][]Envelope
}

func NewInMemoryStream() *InMemoryStream {
	return &InMemoryStream{partitions: make(map[string][]Envelope)}
}

func (s *InMemoryStream) Publish(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[env.Partition] = append(s.partitions[env.Partition], env)
	return nil
}

func (s *InMemoryStream) Poll(_ context.Context, partition string, max int32) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.partitions[partition]
	if int32(len(queue)) < max || max <= 0 {
		max = int32(len(queue))
	}
	out := append([]Envelope(nil), queue[:max]...)
	s.partitions[partition] = queue[max:]
	return out, nil
}
