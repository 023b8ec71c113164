package chat

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/blob"
	"parley/pkg/models"
	"parley/pkg/store"
)

func newService(t *testing.T) (*Service, *blob.Local) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, store.Open(filepath.Join(dir, "db")))
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blob.NewLocal(filepath.Join(dir, "blobs"), 0)
	require.NoError(t, err)
	return New(blobs, Options{}), blobs
}

func mkUser(t *testing.T, s *Service, name string) models.User {
	t.Helper()
	u, err := s.SyncUser("ident-"+name, name, name+"@example.com", "")
	require.NoError(t, err)
	return u
}

func uploadBlob(t *testing.T, blobs *blob.Local, data []byte) string {
	t.Helper()
	target, err := blobs.RequestUploadHandle()
	require.NoError(t, err)
	require.NoError(t, blobs.Put(target.Ref, data))
	return target.Ref
}

func TestSyncUserUpsert(t *testing.T) {
	s, _ := newService(t)

	u1, err := s.SyncUser("ident-z", "Zoe", "zoe@example.com", "")
	require.NoError(t, err)
	u2, err := s.SyncUser("ident-z", "Zoe Q", "zoe@example.com", "")
	require.NoError(t, err)

	assert.Equal(t, u1.ID, u2.ID)
	assert.Equal(t, "Zoe Q", u2.Name)

	resolved, err := s.ResolveCaller("ident-z")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, resolved.ID)
}

func TestResolveCallerUnknownIdentity(t *testing.T) {
	s, _ := newService(t)
	_, err := s.ResolveCaller("never-synced")
	assert.True(t, errors.Is(err, ErrUnauthenticated))
	_, err = s.ResolveCaller("")
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestUpdateOnlineStatus(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	require.NoError(t, s.UpdateOnlineStatus(a, false))
	got, err := store.GetUser(a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
}

func TestListUsersExcludesCaller(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	mkUser(t, s, "bob")
	users, err := s.ListUsers(a)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Name)
}

func TestCreateOrGetDirectIdempotent(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")

	c1, created, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	assert.True(t, created)

	c2, created, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	// same pair from the other side resolves to the same conversation
	c3, created, err := s.CreateOrGetDirect(b, a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c3.ID)
}

func TestCreateOrGetDirectConcurrent(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, _, err := s.CreateOrGetDirect(a, b.ID)
			if assert.NoError(t, err) {
				ids <- conv.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id)
	}
	convIDs, err := store.ListConversationIDsForUser(a.ID)
	require.NoError(t, err)
	assert.Len(t, convIDs, 1)
}

func TestCreateOrGetDirectRejectsSelfAndUnknown(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")

	_, _, err := s.CreateOrGetDirect(a, a.ID)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, _, err = s.CreateOrGetDirect(a, "user-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCreateGroupValidation(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")

	_, err := s.CreateGroup(a, "   ", []string{b.ID}, "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = s.CreateGroup(a, "team", nil, "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	conv, err := s.CreateGroup(a, "team", []string{b.ID, b.ID}, "")
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)
	assert.Equal(t, a.ID, conv.OwnerID)
	assert.Len(t, conv.ParticipantIDs, 2)
}

func TestGroupRoleHierarchy(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")
	m2 := mkUser(t, s, "max")

	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID, m2.ID}, "")
	require.NoError(t, err)

	// plain members cannot manage
	err = s.ManageMember(m1, conv.ID, m2.ID, ActionRemove)
	assert.True(t, errors.Is(err, ErrForbidden))

	// owner promotes m1 to admin
	require.NoError(t, s.ManageMember(owner, conv.ID, m1.ID, ActionPromote))
	mem, err := store.GetMembership(conv.ID, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, mem.Role)

	// admin removes a plain member
	require.NoError(t, s.ManageMember(m1, conv.ID, m2.ID, ActionRemove))
	_, err = store.GetMembership(conv.ID, m2.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	// admin cannot remove the owner
	err = s.ManageMember(m1, conv.ID, owner.ID, ActionRemove)
	assert.True(t, errors.Is(err, ErrForbidden))

	// owner demotes the admin back to member
	require.NoError(t, s.ManageMember(owner, conv.ID, m1.ID, ActionDemote))
	mem, err = store.GetMembership(conv.ID, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, mem.Role)
}

func TestManageMemberEdgeCases(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")

	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID}, "")
	require.NoError(t, err)

	err = s.ManageMember(owner, conv.ID, owner.ID, ActionPromote)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	err = s.ManageMember(owner, conv.ID, "user-missing", ActionRemove)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.ManageMember(owner, conv.ID, m1.ID, "vaporize")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	// demoting a plain member conflicts
	err = s.ManageMember(owner, conv.ID, m1.ID, ActionDemote)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestLeaveTransfersOwnershipToAdminFirst(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")
	m2 := mkUser(t, s, "max")

	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID, m2.ID}, "")
	require.NoError(t, err)
	require.NoError(t, s.ManageMember(owner, conv.ID, m2.ID, ActionPromote))

	require.NoError(t, s.Leave(owner, conv.ID))

	got, err := store.GetConversation(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, m2.ID, got.OwnerID)
	mem, err := store.GetMembership(conv.ID, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, mem.Role)
	assert.NotContains(t, got.ParticipantIDs, owner.ID)
}

func TestLeaveLastMemberDeletesConversation(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")

	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID}, "")
	require.NoError(t, err)
	require.NoError(t, s.Leave(m1, conv.ID))
	require.NoError(t, s.Leave(owner, conv.ID))

	_, err = store.GetConversation(conv.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestLeaveDirectConversationRejected(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	err = s.Leave(a, conv.ID)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestSendAndUnreadFlow(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	_, err = s.Send(a, conv.ID, "hi", "", "")
	require.NoError(t, err)

	views, err := s.ListForUser(b)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].UnreadCount)
	require.NotNil(t, views[0].LastMessage)
	assert.Equal(t, "hi", views[0].LastMessage.Content)

	// sender's own messages never count as unread
	mine, err := s.ListForUser(a)
	require.NoError(t, err)
	assert.Equal(t, 0, mine[0].UnreadCount)

	require.NoError(t, s.MarkRead(b, conv.ID))
	views, err = s.ListForUser(b)
	require.NoError(t, err)
	assert.Equal(t, 0, views[0].UnreadCount)

	// a new message from the other side raises unread again
	_, err = s.Send(a, conv.ID, "there?", "", "")
	require.NoError(t, err)
	views, err = s.ListForUser(b)
	require.NoError(t, err)
	assert.Equal(t, 1, views[0].UnreadCount)
}

func TestMarkReadIdempotentOnEmptyAndRepeated(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	// no messages yet: a no-op, not an error
	require.NoError(t, s.MarkRead(b, conv.ID))

	_, err = s.Send(a, conv.ID, "one", "", "")
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(b, conv.ID))
	require.NoError(t, s.MarkRead(b, conv.ID))

	mem, err := store.GetMembership(conv.ID, b.ID)
	require.NoError(t, err)
	latest, err := store.LatestMessage(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, mem.LastSeenMessageID)
}

func TestSendValidation(t *testing.T) {
	s, blobs := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	_, err = s.Send(a, conv.ID, "   ", "", "")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = s.Send(a, conv.ID, "x", "blob-nonexistent", "image")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	// attachment-only message is allowed
	ref := uploadBlob(t, blobs, []byte("png-bytes"))
	view, err := s.Send(a, conv.ID, "", ref, "image")
	require.NoError(t, err)
	assert.NotEmpty(t, view.AttachmentURL)

	// outsiders get not-found, never forbidden
	c := mkUser(t, s, "cat")
	_, err = s.Send(c, conv.ID, "hi", "", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSendIntoDeletedGroupConflicts(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")
	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID}, "")
	require.NoError(t, err)

	// only the owner may delete
	err = s.DeleteGroup(m1, conv.ID)
	assert.True(t, errors.Is(err, ErrForbidden))
	require.NoError(t, s.DeleteGroup(owner, conv.ID))

	_, err = s.Send(owner, conv.ID, "anyone?", "", "")
	assert.True(t, errors.Is(err, ErrConflict))

	// deleted groups disappear from reads
	_, err = s.GetByID(owner, conv.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	views, err := s.ListForUser(owner)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestSoftDeleteVisibility(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	sent, err := s.Send(a, conv.ID, "secret", "", "")
	require.NoError(t, err)

	// only the sender may delete
	err = s.SoftDelete(b, sent.ID)
	assert.True(t, errors.Is(err, ErrForbidden))
	require.NoError(t, s.SoftDelete(a, sent.ID))
	// repeated delete is a no-op
	require.NoError(t, s.SoftDelete(a, sent.ID))

	msgs, err := s.List(b, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
	assert.Empty(t, msgs[0].Content)

	// tombstones still count toward unread
	views, err := s.ListForUser(b)
	require.NoError(t, err)
	assert.Equal(t, 1, views[0].UnreadCount)
	require.NotNil(t, views[0].LastMessage)
	assert.True(t, views[0].LastMessage.Deleted)
	assert.Empty(t, views[0].LastMessage.Content)

	// outsiders cannot see or delete
	c := mkUser(t, s, "cat")
	err = s.SoftDelete(c, sent.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListNonParticipantIsEmpty(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	c := mkUser(t, s, "cat")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	_, err = s.Send(a, conv.ID, "hi", "", "")
	require.NoError(t, err)

	msgs, err := s.List(c, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = s.GetByID(c, conv.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReactionToggleIsSelfInverse(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	sent, err := s.Send(a, conv.ID, "hi", "", "")
	require.NoError(t, err)

	state, err := s.ToggleReaction(b, sent.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Counts["👍"])
	assert.Equal(t, []string{"👍"}, state.Mine)

	state, err = s.ToggleReaction(b, sent.ID, "👍")
	require.NoError(t, err)
	assert.Empty(t, state.Counts)
	assert.Empty(t, state.Mine)
}

func TestReactionValidationAndVisibility(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	c := mkUser(t, s, "cat")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	sent, err := s.Send(a, conv.ID, "hi", "", "")
	require.NoError(t, err)

	_, err = s.ToggleReaction(b, sent.ID, "🦄")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = s.ToggleReaction(c, sent.ID, "👍")
	assert.True(t, errors.Is(err, ErrNotFound))

	// senders may react to their own messages
	_, err = s.ToggleReaction(a, sent.ID, "😂")
	require.NoError(t, err)
}

func TestMessageEnrichmentPerCaller(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	sent, err := s.Send(a, conv.ID, "hi", "", "")
	require.NoError(t, err)
	_, err = s.ToggleReaction(b, sent.ID, "👍")
	require.NoError(t, err)

	forA, err := s.List(a, conv.ID)
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.True(t, forA[0].IsMe)
	assert.Equal(t, 1, forA[0].ReactionCounts["👍"])
	assert.Empty(t, forA[0].MyReactions)

	forB, err := s.List(b, conv.ID)
	require.NoError(t, err)
	assert.False(t, forB[0].IsMe)
	assert.Equal(t, []string{"👍"}, forB[0].MyReactions)
	require.NotNil(t, forB[0].Sender)
	assert.Equal(t, "ann", forB[0].Sender.Name)
}

func TestTypingLiveness(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	require.NoError(t, s.SetTyping(b, conv.ID))

	typing, err := s.ListTyping(a, conv.ID)
	require.NoError(t, err)
	require.Len(t, typing, 1)
	assert.Equal(t, b.ID, typing[0].ID)

	// the caller never sees their own signal
	typing, err = s.ListTyping(b, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, typing)

	// stale signals are filtered at read time
	old := models.TypingSignal{
		ConversationID: conv.ID,
		UserID:         b.ID,
		LastTypedAt:    time.Now().Add(-5 * time.Second).UnixNano(),
	}
	require.NoError(t, store.SaveTyping(old))
	typing, err = s.ListTyping(a, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, typing)

	// clearing an absent signal is fine
	require.NoError(t, s.ClearTyping(b, conv.ID))
	require.NoError(t, s.ClearTyping(b, conv.ID))
}

func TestSendClearsTypingSignal(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	require.NoError(t, s.SetTyping(b, conv.ID))
	_, err = s.Send(b, conv.ID, "done typing", "", "")
	require.NoError(t, err)

	typing, err := s.ListTyping(a, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, typing)
}

func TestUpdateGroupDetailsPartial(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")
	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID}, "")
	require.NoError(t, err)

	name := "the crew"
	_, err = s.UpdateGroupDetails(m1, conv.ID, models.GroupUpdate{Name: &name})
	assert.True(t, errors.Is(err, ErrForbidden))

	got, err := s.UpdateGroupDetails(owner, conv.ID, models.GroupUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "the crew", got.GroupName)

	blank := "  "
	_, err = s.UpdateGroupDetails(owner, conv.ID, models.GroupUpdate{Name: &blank})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestAddMembersDeduplicates(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "olga")
	m1 := mkUser(t, s, "mia")
	m2 := mkUser(t, s, "max")
	conv, err := s.CreateGroup(owner, "crew", []string{m1.ID}, "")
	require.NoError(t, err)

	err = s.ManageMember(owner, conv.ID, m1.ID, ActionPromote)
	require.NoError(t, err)

	// m1 is already a participant; only m2 lands
	got, err := s.AddMembers(m1, conv.ID, []string{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Len(t, got.ParticipantIDs, 3)

	mem, err := store.GetMembership(conv.ID, m2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, mem.Role)
}

func TestSharedMediaNewestFirst(t *testing.T) {
	s, blobs := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	ref1 := uploadBlob(t, blobs, []byte("one"))
	ref2 := uploadBlob(t, blobs, []byte("two"))
	first, err := s.Send(a, conv.ID, "first", ref1, "image")
	require.NoError(t, err)
	_, err = s.Send(a, conv.ID, "plain text", "", "")
	require.NoError(t, err)
	second, err := s.Send(a, conv.ID, "second", ref2, "image")
	require.NoError(t, err)

	items, err := s.SharedMedia(b, conv.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].MessageID)
	assert.Equal(t, first.ID, items[1].MessageID)

	// deleted attachments drop out
	require.NoError(t, s.SoftDelete(a, second.ID))
	items, err = s.SharedMedia(b, conv.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, first.ID, items[0].MessageID)
}

func TestConversationListOrdering(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	c := mkUser(t, s, "cat")

	dm1, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	dm2, _, err := s.CreateOrGetDirect(a, c.ID)
	require.NoError(t, err)

	// activity in dm1 puts it first despite being created earlier
	_, err = s.Send(b, dm1.ID, "ping", "", "")
	require.NoError(t, err)

	views, err := s.ListForUser(a)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, dm1.ID, views[0].ID)
	assert.Equal(t, dm2.ID, views[1].ID)
}

func TestConcurrentSendsKeepMemberAdds(t *testing.T) {
	s, _ := newService(t)
	owner := mkUser(t, s, "ann")
	first := mkUser(t, s, "bob")

	joiners := make([]models.User, 8)
	for i := range joiners {
		joiners[i] = mkUser(t, s, fmt.Sprintf("joiner%d", i))
	}

	conv, err := s.CreateGroup(owner, "crew", []string{first.ID}, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, j := range joiners {
			_, err := s.AddMembers(owner, conv.ID, []string{j.ID})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := s.Send(first, conv.ID, fmt.Sprintf("msg %d", i), "", "")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	// no stale conversation snapshot may overwrite a committed add: every
	// joiner stays in the participant set alongside their membership row
	got, err := store.GetConversation(conv.ID)
	require.NoError(t, err)
	for _, j := range joiners {
		assert.True(t, got.HasParticipant(j.ID), j.ID)
		_, err := store.GetMembership(conv.ID, j.ID)
		assert.NoError(t, err, j.ID)
	}
	assert.Len(t, got.ParticipantIDs, 2+len(joiners))

	latest, err := store.LatestMessage(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.LastMessageID)
}

func TestUnreadZeroForDanglingSeenPointer(t *testing.T) {
	s, _ := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")

	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)
	_, err = s.Send(a, conv.ID, "hello", "", "")
	require.NoError(t, err)

	// a seen pointer at a purged row means everything still stored has
	// been read; the count degrades to zero, not to counting everything
	mem, err := store.GetMembership(conv.ID, b.ID)
	require.NoError(t, err)
	mem.LastSeenMessageID = "msg-gone"
	require.NoError(t, store.SaveMembership(mem))

	views, err := s.ListForUser(b)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 0, views[0].UnreadCount)
}

func TestMediaCount(t *testing.T) {
	s, blobs := newService(t)
	a := mkUser(t, s, "ann")
	b := mkUser(t, s, "bob")
	c := mkUser(t, s, "cat")

	conv, _, err := s.CreateOrGetDirect(a, b.ID)
	require.NoError(t, err)

	ref1 := uploadBlob(t, blobs, []byte("one"))
	ref2 := uploadBlob(t, blobs, []byte("two"))
	_, err = s.Send(a, conv.ID, "pic", ref1, "image")
	require.NoError(t, err)
	dead, err := s.Send(a, conv.ID, "gone", ref2, "image")
	require.NoError(t, err)
	_, err = s.Send(b, conv.ID, "plain text", "", "")
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(a, dead.ID))

	n, err := s.MediaCount(b, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// outsiders see zero, consistent with the empty media list
	n, err = s.MediaCount(c, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetUser(t *testing.T) {
	s, _ := newService(t)
	b := mkUser(t, s, "bob")

	sum, err := s.GetUser(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", sum.Name)

	_, err = s.GetUser("user-missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
