package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestPublishJSON_SendsBodyAndAttributes(t *testing.T) {
	m := &mockSQS{}
	p := NewPublisher(m, "https://sqs.local/queue")

	err := p.PublishJSON(context.Background(), map[string]string{"user_id": "u1"}, map[string]string{
		"action":    "grant",
		"dedup_key": "",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(m.inputs))
	}
	in := m.inputs[0]
	if *in.MessageBody != `{"user_id":"u1"}` {
		t.Fatalf("unexpected body %s", *in.MessageBody)
	}
	if _, ok := in.MessageAttributes["dedup_key"]; ok {
		t.Fatalf("empty attributes must be skipped")
	}
	if got := *in.MessageAttributes["action"].StringValue; got != "grant" {
		t.Fatalf("action attribute mismatch: %s", got)
	}
}

func TestSend_NoQueueURL(t *testing.T) {
	p := NewPublisher(&mockSQS{}, "")
	if err := p.Send(context.Background(), "{}", nil); err == nil {
		t.Fatal("expected error without queue url")
	}
}

func TestSend_WrapsSQSError(t *testing.T) {
	boom := errors.New("throttled")
	p := NewPublisher(&mockSQS{err: boom}, "q")
	if err := p.Send(context.Background(), "{}", nil); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
