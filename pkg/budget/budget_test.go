package budget_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/budget"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

func TestCalculateCountsMessagesAndCompletion(t *testing.T) {
	c, err := budget.NewCounter("gpt-4")
	require.NoError(t, err)

	messages := []chat.Message{
		chat.NewSystemMessage("you are a helpful assistant"),
		chat.NewUserMessage("hello"),
	}
	total := c.Calculate(messages, nil, budget.FunctionCallDirective{})
	assert.Greater(t, total, 0)
}

func TestTruncateKeepsProtectedMessages(t *testing.T) {
	b, err := budget.New(60, 10, "gpt-4")
	require.NoError(t, err)

	pinned := chat.NewUserMessage("pin me please", tags.MustNew("pinned", "true"))
	var messages []chat.Message
	messages = append(messages, pinned)
	for i := 0; i < 20; i++ {
		messages = append(messages, chat.NewUserMessage("padding padding padding padding padding"))
	}

	excludeTags := tags.ForTag(tags.MustNew("pinned", "true"))
	out, err := b.Truncate(context.Background(), messages, nil, excludeTags)
	require.NoError(t, err)

	found := false
	for _, m := range out {
		if m == chat.Message(pinned) {
			found = true
		}
	}
	assert.True(t, found, "protected message must survive truncation")
	assert.Less(t, len(out), len(messages))
}

func TestTruncateReturnsErrorWhenProtectedAloneExceedsThreshold(t *testing.T) {
	b, err := budget.New(5, 1, "gpt-4")
	require.NoError(t, err)

	pinned := chat.NewUserMessage("this message alone is already far too long to fit the budget", tags.MustNew("pinned", "true"))
	excludeTags := tags.ForTag(tags.MustNew("pinned", "true"))

	_, err = b.Truncate(context.Background(), []chat.Message{pinned}, nil, excludeTags)
	assert.ErrorIs(t, err, budget.ErrBudgetTooTight)
}

func TestNewRejectsCompletionBufferExceedingThreshold(t *testing.T) {
	_, err := budget.New(10, 20, "gpt-4")
	require.Error(t, err)
}
