package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPublisherRecordsByTopic(t *testing.T) {
	p := NewInMemoryPublisher()
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, "routing.audit", map[string]string{"decision": "a"}))
	require.NoError(t, p.Publish(ctx, "routing.audit", map[string]string{"decision": "b"}))
	require.NoError(t, p.Publish(ctx, "other", 1))

	msgs := p.Messages("routing.audit")
	assert.Len(t, msgs, 2)
	assert.Len(t, p.Messages("other"), 1)
	assert.Empty(t, p.Messages("unused"))
}

func TestNopPublisherNeverErrors(t *testing.T) {
	p := NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "x", nil))
	assert.NoError(t, p.Close())
}
