package chat

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/utils"
)

// CreateOrGetDirect returns the existing direct conversation between the
// caller and the other user, or creates it. The compare-and-create is
// serialized so concurrent first contacts cannot produce duplicates. The
// bool result reports whether a new conversation was created.
func (s *Service) CreateOrGetDirect(caller models.User, otherID string) (models.Conversation, bool, error) {
	if otherID == "" || otherID == caller.ID {
		return models.Conversation{}, false, errors.Wrap(ErrInvalidArgument, "direct conversation needs a distinct other user")
	}
	if _, err := store.GetUser(otherID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, false, errors.Wrap(ErrNotFound, "user")
		}
		return models.Conversation{}, false, err
	}

	s.dmMu.Lock()
	defer s.dmMu.Unlock()

	convIDs, err := store.ListConversationIDsForUser(caller.ID)
	if err != nil {
		return models.Conversation{}, false, err
	}
	for _, id := range convIDs {
		conv, err := store.GetConversation(id)
		if err != nil {
			continue
		}
		if conv.IsGroup || conv.Deleted || len(conv.ParticipantIDs) != 2 {
			continue
		}
		if conv.HasParticipant(otherID) {
			return conv, false, nil
		}
	}

	now := nowNano()
	conv := models.Conversation{
		ID:             utils.GenConversationID(),
		ParticipantIDs: []string{caller.ID, otherID},
		CreatedTS:      now,
	}
	if err := store.SaveConversation(conv); err != nil {
		return models.Conversation{}, false, err
	}
	for _, uid := range conv.ParticipantIDs {
		m := models.Membership{ConversationID: conv.ID, UserID: uid, Role: models.RoleMember, JoinedTS: now}
		if err := store.SaveMembership(m); err != nil {
			return models.Conversation{}, false, err
		}
	}
	logger.Info("direct_conversation_created", "conversation", conv.ID)
	return conv, true, nil
}

// CreateGroup creates a group conversation owned by the caller, with every
// listed member added with the member role.
func (s *Service) CreateGroup(caller models.User, name string, memberIDs []string, avatarRef string) (models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "group name required")
	}
	if len(name) > s.maxGroupNameLen {
		return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "group name too long")
	}
	if len(memberIDs) == 0 {
		return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "group needs at least one member besides the creator")
	}

	participants := []string{caller.ID}
	seen := map[string]bool{caller.ID: true}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		if _, err := store.GetUser(id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return models.Conversation{}, errors.Wrap(ErrNotFound, "user")
			}
			return models.Conversation{}, err
		}
		seen[id] = true
		participants = append(participants, id)
	}

	now := nowNano()
	conv := models.Conversation{
		ID:             utils.GenConversationID(),
		ParticipantIDs: participants,
		IsGroup:        true,
		GroupName:      name,
		GroupAvatarRef: avatarRef,
		OwnerID:        caller.ID,
		CreatedTS:      now,
	}
	if err := store.SaveConversation(conv); err != nil {
		return models.Conversation{}, err
	}
	for _, uid := range participants {
		role := models.RoleMember
		if uid == caller.ID {
			role = models.RoleOwner
		}
		m := models.Membership{ConversationID: conv.ID, UserID: uid, Role: role, JoinedTS: now}
		if err := store.SaveMembership(m); err != nil {
			return models.Conversation{}, err
		}
	}
	logger.Info("group_created", "conversation", conv.ID, "owner", caller.ID, "members", len(participants))
	return conv, nil
}

// UpdateGroupDetails partially updates group name and avatar. Owner or
// admin only; unset fields keep their prior values.
func (s *Service) UpdateGroupDetails(caller models.User, convID string, upd models.GroupUpdate) (models.Conversation, error) {
	unlock := s.lockConversation(convID)
	defer unlock()

	conv, mem, err := s.loadParticipant(convID, caller.ID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.IsGroup {
		return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "not a group conversation")
	}
	if !mem.Role.CanManage() {
		return models.Conversation{}, errors.Wrap(ErrForbidden, "owner or admin required")
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "group name required")
		}
		if len(name) > s.maxGroupNameLen {
			return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "group name too long")
		}
		upd.Name = &name
	}
	upd.Apply(&conv)
	if err := store.SaveConversation(conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// DeleteGroup soft-deletes a group conversation. Owner only; terminal.
func (s *Service) DeleteGroup(caller models.User, convID string) error {
	unlock := s.lockConversation(convID)
	defer unlock()

	conv, mem, err := s.loadParticipant(convID, caller.ID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return errors.Wrap(ErrInvalidArgument, "not a group conversation")
	}
	if !mem.Role.IsOwner() {
		return errors.Wrap(ErrForbidden, "owner required")
	}
	conv.Deleted = true
	if err := store.SaveConversation(conv); err != nil {
		return err
	}
	logger.Info("group_deleted", "conversation", convID, "by", caller.ID)
	return nil
}

// GetByID returns the enriched conversation view for a participant.
func (s *Service) GetByID(caller models.User, convID string) (models.ConversationView, error) {
	conv, mem, err := s.loadParticipant(convID, caller.ID)
	if err != nil {
		return models.ConversationView{}, err
	}
	return s.enrichConversation(conv, caller, mem)
}

// ListForUser returns every live conversation the caller belongs to,
// enriched, ordered most-recent-activity first.
func (s *Service) ListForUser(caller models.User) ([]models.ConversationView, error) {
	convIDs, err := store.ListConversationIDsForUser(caller.ID)
	if err != nil {
		return nil, err
	}
	views := make([]models.ConversationView, 0, len(convIDs))
	for _, id := range convIDs {
		conv, err := store.GetConversation(id)
		if err != nil || conv.Deleted {
			continue
		}
		mem, err := store.GetMembership(id, caller.ID)
		if err != nil {
			continue
		}
		v, err := s.enrichConversation(conv, caller, mem)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	sort.SliceStable(views, func(i, j int) bool {
		return activityTS(views[i]) > activityTS(views[j])
	})
	return views, nil
}

// activityTS is the sort key for the conversation list: last message time,
// falling back to conversation creation time.
func activityTS(v models.ConversationView) int64 {
	if v.LastMessage != nil {
		return v.LastMessage.CreatedTS
	}
	return v.CreatedTS
}

func (s *Service) enrichConversation(conv models.Conversation, caller models.User, mem models.Membership) (models.ConversationView, error) {
	view := models.ConversationView{
		Conversation:      conv,
		GroupAvatarURL:    s.avatarURL(conv.GroupAvatarRef),
		OtherParticipants: []models.UserSummary{},
		MyRole:            mem.Role,
	}
	for _, pid := range conv.ParticipantIDs {
		if pid == caller.ID {
			continue
		}
		if sum := s.userSummary(pid); sum != nil {
			view.OtherParticipants = append(view.OtherParticipants, *sum)
		}
	}
	// A lastMessageId pointing at a purged row degrades to no preview.
	if conv.LastMessageID != "" {
		if msg, err := store.GetMessage(conv.LastMessageID); err == nil {
			p := models.MessagePreview{
				ID:        msg.ID,
				SenderID:  msg.SenderID,
				Content:   msg.Content,
				Deleted:   msg.Deleted,
				CreatedTS: msg.CreatedTS,
			}
			if msg.Deleted {
				p.Content = ""
			}
			view.LastMessage = &p
		}
	}
	unread, err := s.unreadCount(conv.ID, mem)
	if err != nil {
		return models.ConversationView{}, err
	}
	view.UnreadCount = unread
	return view, nil
}

// unreadCount derives the number of messages newer than the member's
// last-seen pointer that were authored by others. Soft-deleted rows still
// count; they remain part of the log. A pointer at a purged row means the
// member has read everything that still exists, so it degrades to zero.
func (s *Service) unreadCount(convID string, mem models.Membership) (int, error) {
	msgs, err := store.ListMessages(convID)
	if err != nil {
		return 0, err
	}
	var seenTS int64 = -1
	if mem.LastSeenMessageID != "" {
		seen, err := store.GetMessage(mem.LastSeenMessageID)
		if err != nil {
			return 0, nil
		}
		seenTS = seen.CreatedTS
	}
	n := 0
	for _, m := range msgs {
		if m.SenderID == mem.UserID {
			continue
		}
		if m.CreatedTS > seenTS {
			n++
		}
	}
	return n, nil
}

// ListMembers returns participant summaries paired with their roles.
func (s *Service) ListMembers(caller models.User, convID string) ([]models.MemberView, error) {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		return nil, err
	}
	mems, err := store.ListMembers(convID)
	if err != nil {
		return nil, err
	}
	out := make([]models.MemberView, 0, len(mems))
	for _, m := range mems {
		sum := s.userSummary(m.UserID)
		if sum == nil {
			continue
		}
		out = append(out, models.MemberView{UserSummary: *sum, Role: m.Role})
	}
	return out, nil
}
