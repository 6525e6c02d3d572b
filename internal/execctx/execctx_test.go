package execctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/agentforge/runtime/pkg/agentrt/v1"
)

func msg(role v1.MessageRole, content string) v1.ChatMessage {
	return v1.ChatMessage{Role: role, Content: content, Timestamp: time.Now()}
}

func TestGetOrCreateReturnsEmptyContextOnFirstAccess(t *testing.T) {
	store := NewStore(10)
	key := v1.NewSessionKey("a1", "s1")

	ctx := store.GetOrCreate(key)
	require.NotNil(t, ctx)
	assert.Equal(t, key, ctx.SessionKey)
	assert.Empty(t, ctx.History)
}

func TestGetOrCreateReusesExistingContext(t *testing.T) {
	store := NewStore(10)
	key := v1.NewSessionKey("a1", "s1")

	first := store.GetOrCreate(key)
	store.Append(key, []v1.ChatMessage{msg(v1.RoleUser, "hi")})
	second := store.GetOrCreate(key)

	assert.Same(t, first, second)
	assert.Len(t, second.History, 1)
}

func TestAppendTrimsFromHeadPreservingMaxHistory(t *testing.T) {
	store := NewStore(3)
	key := v1.NewSessionKey("a1", "s1")

	store.Append(key, []v1.ChatMessage{msg(v1.RoleUser, "1")})
	store.Append(key, []v1.ChatMessage{msg(v1.RoleAssistant, "2")})
	store.Append(key, []v1.ChatMessage{msg(v1.RoleUser, "3")})
	store.Append(key, []v1.ChatMessage{msg(v1.RoleAssistant, "4")})

	ctx := store.GetOrCreate(key)
	assert.LessOrEqual(t, len(ctx.History), 3)
	assert.Equal(t, v1.RoleUser, ctx.History[0].Role)
}

func TestAppendNeverStartsWithPartialTurn(t *testing.T) {
	store := NewStore(2)
	key := v1.NewSessionKey("a1", "s1")

	store.Append(key, []v1.ChatMessage{
		msg(v1.RoleUser, "turn one user"),
		msg(v1.RoleAssistant, "turn one assistant"),
		msg(v1.RoleUser, "turn two user"),
		msg(v1.RoleAssistant, "turn two assistant"),
	})

	ctx := store.GetOrCreate(key)
	assert.Equal(t, v1.RoleUser, ctx.History[0].Role, "trimmed history must start on a turn boundary")
}

func TestAppendFloorOfOneWhenNoBoundaryFits(t *testing.T) {
	store := NewStore(1)
	key := v1.NewSessionKey("a1", "s1")

	store.Append(key, []v1.ChatMessage{
		msg(v1.RoleUser, "u"),
		msg(v1.RoleAssistant, "a1"),
		msg(v1.RoleTool, "t1"),
	})

	ctx := store.GetOrCreate(key)
	require.Len(t, ctx.History, 1)
	assert.Equal(t, "t1", ctx.History[0].Content)
}

func TestTouchUpdatesLastActiveWithoutChangingHistory(t *testing.T) {
	store := NewStore(10)
	key := v1.NewSessionKey("a1", "s1")
	store.Append(key, []v1.ChatMessage{msg(v1.RoleUser, "hi")})

	before := store.GetOrCreate(key).LastActive
	time.Sleep(time.Millisecond)
	store.Touch(key)
	after := store.GetOrCreate(key).LastActive

	assert.True(t, after.After(before))
	assert.Len(t, store.GetOrCreate(key).History, 1)
}

func TestDestroyRemovesContext(t *testing.T) {
	store := NewStore(10)
	key := v1.NewSessionKey("a1", "s1")
	store.Append(key, []v1.ChatMessage{msg(v1.RoleUser, "hi")})

	store.Destroy(key)

	fresh := store.GetOrCreate(key)
	assert.Empty(t, fresh.History, "destroy should drop prior history, not just reset the pointer")
}

func TestMaxHistoryZeroTreatedAsFloorOfOne(t *testing.T) {
	store := NewStore(0)
	key := v1.NewSessionKey("a1", "s1")

	store.Append(key, []v1.ChatMessage{
		msg(v1.RoleUser, "u1"),
		msg(v1.RoleUser, "u2"),
	})

	ctx := store.GetOrCreate(key)
	assert.Len(t, ctx.History, 1)
}
