package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/models"
)

func openStore(t *testing.T) {
	t.Helper()
	require.NoError(t, Open(filepath.Join(t.TempDir(), "db")))
	t.Cleanup(func() { _ = Close() })
}

func TestOpenCloseReady(t *testing.T) {
	assert.False(t, Ready())
	openStore(t)
	assert.True(t, Ready())
}

func TestUserIdentityIndex(t *testing.T) {
	openStore(t)
	u := models.User{ID: "user-1", Name: "Ann", IdentityRef: "ext-ann"}
	require.NoError(t, SaveUser(u))

	got, err := GetUser("user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)

	byIdent, err := GetUserByIdentity("ext-ann")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byIdent.ID)

	_, err = GetUserByIdentity("ext-nobody")
	assert.True(t, errors.Is(err, ErrNotFound))

	users, err := ListUsers()
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestAppendMessageIsAtomicBatch(t *testing.T) {
	openStore(t)
	conv := models.Conversation{ID: "conv-1", ParticipantIDs: []string{"user-a", "user-b"}}
	require.NoError(t, SaveConversation(conv))
	require.NoError(t, SaveTyping(models.TypingSignal{ConversationID: "conv-1", UserID: "user-a", LastTypedAt: time.Now().UnixNano()}))

	msg := models.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: "user-a", Content: "hi", CreatedTS: time.Now().UnixNano()}
	require.NoError(t, AppendMessage(conv, msg))

	// conversation meta points at the new message
	got, err := GetConversation("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", got.LastMessageID)

	// id index resolves the message
	byID, err := GetMessage("msg-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", byID.Content)

	// sender's typing signal was cleared in the same batch
	typing, err := ListTyping("conv-1")
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestListMessagesKeepsInsertionOrder(t *testing.T) {
	openStore(t)
	conv := models.Conversation{ID: "conv-1", ParticipantIDs: []string{"user-a", "user-b"}}
	require.NoError(t, SaveConversation(conv))

	base := time.Now().UnixNano()
	for i, id := range []string{"msg-1", "msg-2", "msg-3"} {
		m := models.Message{ID: id, ConversationID: "conv-1", SenderID: "user-a", Content: id, CreatedTS: base + int64(i)}
		require.NoError(t, AppendMessage(conv, m))
	}

	msgs, err := ListMessages("conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "msg-1", msgs[0].ID)
	assert.Equal(t, "msg-3", msgs[2].ID)

	latest, err := LatestMessage("conv-1")
	require.NoError(t, err)
	assert.Equal(t, "msg-3", latest.ID)

	_, err = LatestMessage("conv-empty")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdateMessageInPlace(t *testing.T) {
	openStore(t)
	conv := models.Conversation{ID: "conv-1"}
	require.NoError(t, SaveConversation(conv))
	m := models.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: "user-a", Content: "hi", CreatedTS: time.Now().UnixNano()}
	require.NoError(t, AppendMessage(conv, m))

	m.Deleted = true
	require.NoError(t, UpdateMessage(m))

	msgs, err := ListMessages("conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
}

func TestMembershipReverseIndex(t *testing.T) {
	openStore(t)
	require.NoError(t, SaveMembership(models.Membership{ConversationID: "conv-1", UserID: "user-a", Role: models.RoleOwner}))
	require.NoError(t, SaveMembership(models.Membership{ConversationID: "conv-2", UserID: "user-a", Role: models.RoleMember}))

	ids, err := ListConversationIDsForUser("user-a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"conv-1", "conv-2"}, ids)

	require.NoError(t, DeleteMembership("conv-1", "user-a"))
	ids, err = ListConversationIDsForUser("user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"conv-2"}, ids)

	_, err = GetMembership("conv-1", "user-a")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReactionRows(t *testing.T) {
	openStore(t)
	r := models.Reaction{MessageID: "msg-1", UserID: "user-a", Emoji: "👍"}
	require.NoError(t, SaveReaction(r))

	ok, err := HasReaction("msg-1", "user-a", "👍")
	require.NoError(t, err)
	assert.True(t, ok)

	rows, err := ListReactions("msg-1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, DeleteReaction("msg-1", "user-a", "👍"))
	ok, err = HasReaction("msg-1", "user-a", "👍")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPurgeTypingOlderThan(t *testing.T) {
	openStore(t)
	now := time.Now().UnixNano()
	require.NoError(t, SaveTyping(models.TypingSignal{ConversationID: "conv-1", UserID: "user-a", LastTypedAt: now}))
	require.NoError(t, SaveTyping(models.TypingSignal{ConversationID: "conv-1", UserID: "user-b", LastTypedAt: now - int64(2*time.Hour)}))

	n, err := PurgeTypingOlderThan(now - int64(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := ListTyping("conv-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "user-a", rows[0].UserID)
}

func TestDeleteConversationTree(t *testing.T) {
	openStore(t)
	conv := models.Conversation{ID: "conv-1", ParticipantIDs: []string{"user-a"}}
	require.NoError(t, SaveConversation(conv))
	require.NoError(t, SaveMembership(models.Membership{ConversationID: "conv-1", UserID: "user-a", Role: models.RoleOwner}))
	require.NoError(t, AppendMessage(conv, models.Message{ID: "msg-1", ConversationID: "conv-1", SenderID: "user-a", Content: "x", CreatedTS: time.Now().UnixNano()}))

	require.NoError(t, DeleteConversationTree("conv-1"))

	_, err := GetConversation("conv-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	ids, err := ListConversationIDsForUser("user-a")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// message rows are left behind as dangling tombstones
	msgs, err := ListMessages("conv-1")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
