package buffer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srnnkls/lalia-go/pkg/buffer"
	"github.com/srnnkls/lalia-go/pkg/chat"
	"github.com/srnnkls/lalia-go/pkg/tags"
)

func defaultFold() tags.Predicate {
	return tags.ForPattern(tags.MustPattern("error", ".*"))
}

func TestAddCommitMovesIntoCommitted(t *testing.T) {
	b := buffer.New(defaultFold())
	b.Add(chat.NewUserMessage("hi"))
	assert.Equal(t, 1, b.Len())

	b.Commit()
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, chat.RoleUser, b.At(0).Role())
}

func TestRollbackDiscardsPending(t *testing.T) {
	b := buffer.New(defaultFold())
	b.Add(chat.NewUserMessage("hi"))
	b.Rollback()
	assert.Equal(t, 0, b.Len())
}

func TestRevertUndoesLastCommit(t *testing.T) {
	b := buffer.New(defaultFold())
	b.Add(chat.NewUserMessage("first"))
	b.Commit()
	b.Add(chat.NewUserMessage("second"))
	b.Commit()
	require.Equal(t, 2, b.Len())

	b.Revert()
	require.Equal(t, 1, b.Len())
	assert.Equal(t, "first", b.At(0).(*chat.UserMessage).Content)
}

func TestDefaultFoldHidesErrorTaggedMessages(t *testing.T) {
	b := buffer.New(defaultFold())
	errMsg := chat.NewFunctionMessage("search", "Error: boom", nil, tags.MustNew("error", "function_call"))
	b.Add(errMsg)
	b.Commit()

	visible := b.Visible()
	assert.Empty(t, visible)
	assert.Equal(t, 1, b.Len())
}

func TestExpandTemporarilyUnfoldsAndRefoldsOnError(t *testing.T) {
	b := buffer.New(defaultFold())
	errMsg := chat.NewFunctionMessage("search", "Error: boom", nil, tags.MustNew("error", "function_call"))
	b.Add(errMsg)
	b.Commit()

	require.Empty(t, b.Visible())

	boom := errors.New("boom")
	err := b.Expand(tags.MustPattern("error", ".*"), func() error {
		assert.Len(t, b.Visible(), 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.Visible())
}

func TestFilterMutatesInPlaceAndClearsBounds(t *testing.T) {
	b := buffer.New(defaultFold())
	b.Add(chat.NewUserMessage("keep"))
	b.Add(chat.NewUserMessage("drop"))
	b.Commit()

	b.Filter(func(m chat.Message) bool {
		return m.(*chat.UserMessage).Content == "keep"
	})

	require.Equal(t, 1, b.Len())
	assert.Equal(t, "keep", b.At(0).(*chat.UserMessage).Content)

	// bounds were invalidated: revert is a no-op now
	b.Revert()
	assert.Equal(t, 1, b.Len())
}
