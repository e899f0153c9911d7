package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credential-sync/internal/model"
)

// scriptedReader serves queued messages, then io.EOF.
type scriptedReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func TestDecodeChange(t *testing.T) {
	change, err := DecodeChange([]byte(`{
		"before": {"uid":"u1","email":"u@x.com","password_hash":"h1","password_salt":"s1"},
		"after":  {"uid":"u1","email":"u@x.com","password_hash":"h2","password_salt":"s1"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "h1", change.Before.PasswordHash)
	assert.Equal(t, "h2", change.After.PasswordHash)

	_, err = DecodeChange([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeChange([]byte(`{}`))
	assert.Error(t, err)
}

func TestRunCommitsEveryMessage(t *testing.T) {
	reader := &scriptedReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"before":{"password_hash":"a"},"after":{"password_hash":"b"}}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"before":{"password_hash":"a"},"after":{"password_hash":"c"}}`)},
	}}

	var handled []string
	handler := func(ctx context.Context, before, after *model.IdentitySnapshot) error {
		handled = append(handled, after.PasswordHash)
		if after.PasswordHash == "c" {
			return errors.New("mirror down")
		}
		return nil
	}

	err := NewChangeConsumer(reader, handler, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, handled)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &blockingReader{}
	err := NewChangeConsumer(reader, nil, zap.NewNop()).Run(ctx)
	assert.NoError(t, err)
}

type blockingReader struct{}

func (blockingReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (blockingReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	return nil
}
