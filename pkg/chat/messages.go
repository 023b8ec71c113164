package chat

import (
	"strings"

	"github.com/pkg/errors"

	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/utils"
)

// Send appends a message to a conversation. Content is trimmed and may be
// empty only when an attachment is present. The message row, the
// conversation's lastMessageId and the caller's typing clear are applied
// atomically.
func (s *Service) Send(caller models.User, convID, content, attachmentRef, attachmentKind string) (models.MessageView, error) {
	unlock := s.lockConversation(convID)
	defer unlock()

	conv, err := store.GetConversation(convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.MessageView{}, errors.Wrap(ErrNotFound, "conversation")
		}
		return models.MessageView{}, err
	}
	if _, err := store.GetMembership(convID, caller.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.MessageView{}, errors.Wrap(ErrNotFound, "conversation")
		}
		return models.MessageView{}, err
	}
	if conv.Deleted {
		return models.MessageView{}, errors.Wrap(ErrConflict, "conversation deleted")
	}

	content = strings.TrimSpace(content)
	if content == "" && attachmentRef == "" {
		return models.MessageView{}, errors.Wrap(ErrInvalidArgument, "empty message")
	}
	if len(content) > s.maxContentLen {
		return models.MessageView{}, errors.Wrap(ErrInvalidArgument, "content too long")
	}
	if attachmentRef != "" {
		if _, ok := s.blobs.ResolveURL(attachmentRef); !ok {
			return models.MessageView{}, errors.Wrap(ErrInvalidArgument, "unknown attachment ref")
		}
	}

	msg := models.Message{
		ID:             utils.GenMessageID(),
		ConversationID: convID,
		SenderID:       caller.ID,
		Content:        content,
		AttachmentRef:  attachmentRef,
		AttachmentKind: attachmentKind,
		CreatedTS:      nowNano(),
	}
	if err := store.AppendMessage(conv, msg); err != nil {
		return models.MessageView{}, err
	}
	return s.messageView(msg, caller, nil), nil
}

// List returns the conversation's messages oldest-to-newest, enriched for
// the caller. Non-participants get an empty list rather than an error.
func (s *Service) List(caller models.User, convID string) ([]models.MessageView, error) {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []models.MessageView{}, nil
		}
		return nil, err
	}
	msgs, err := store.ListMessages(convID)
	if err != nil {
		return nil, err
	}
	senders := map[string]*models.UserSummary{}
	out := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		sum, ok := senders[m.SenderID]
		if !ok {
			sum = s.userSummary(m.SenderID)
			senders[m.SenderID] = sum
		}
		out = append(out, s.messageView(m, caller, sum))
	}
	return out, nil
}

// messageView enriches one message for the caller. Deleted rows keep their
// position and flag but never expose content or attachment.
func (s *Service) messageView(m models.Message, caller models.User, sender *models.UserSummary) models.MessageView {
	if sender == nil {
		sender = s.userSummary(m.SenderID)
	}
	v := models.MessageView{
		Message: m,
		Sender:  sender,
		IsMe:    m.SenderID == caller.ID,
	}
	if m.Deleted {
		v.Content = ""
		v.AttachmentRef = ""
		v.AttachmentKind = ""
		return v
	}
	if m.AttachmentRef != "" {
		if url, ok := s.blobs.ResolveURL(m.AttachmentRef); ok {
			v.AttachmentURL = url
		}
	}
	counts, mine, err := s.reactionAggregate(m.ID, caller.ID)
	if err == nil {
		v.ReactionCounts = counts
		v.MyReactions = mine
	}
	return v
}

// SoftDelete marks a message deleted. Only the original sender may delete;
// the row is kept for ordering and unread math.
func (s *Service) SoftDelete(caller models.User, messageID string) error {
	msg, err := store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.Wrap(ErrNotFound, "message")
		}
		return err
	}
	if _, err := store.GetMembership(msg.ConversationID, caller.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.Wrap(ErrNotFound, "message")
		}
		return err
	}
	if msg.SenderID != caller.ID {
		return errors.Wrap(ErrForbidden, "only the sender can delete a message")
	}
	if msg.Deleted {
		return nil
	}
	msg.Deleted = true
	return store.UpdateMessage(msg)
}

// MarkRead advances the caller's last-seen pointer to the conversation's
// newest message. A no-op when the log is empty, and the pointer never
// regresses: a candidate older than the currently stored seen message is
// ignored.
func (s *Service) MarkRead(caller models.User, convID string) error {
	unlock := s.lockConversation(convID)
	defer unlock()

	_, mem, err := s.loadParticipant(convID, caller.ID)
	if err != nil {
		return err
	}
	latest, err := store.LatestMessage(convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if mem.LastSeenMessageID == latest.ID {
		return nil
	}
	if mem.LastSeenMessageID != "" {
		if seen, err := store.GetMessage(mem.LastSeenMessageID); err == nil && seen.CreatedTS > latest.CreatedTS {
			return nil
		}
	}
	mem.LastSeenMessageID = latest.ID
	return store.SaveMembership(mem)
}

// MediaCount returns how many non-deleted attachment messages the
// conversation holds, for the media-tab badge. Non-participants get zero,
// matching SharedMedia's empty result.
func (s *Service) MediaCount(caller models.User, convID string) (int, error) {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	msgs, err := store.ListMessages(convID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if !m.Deleted && m.AttachmentRef != "" {
			n++
		}
	}
	return n, nil
}

// SharedMedia returns every non-deleted message carrying an attachment,
// newest-first, resolved to retrievable URLs.
func (s *Service) SharedMedia(caller models.User, convID string) ([]models.MediaItem, error) {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []models.MediaItem{}, nil
		}
		return nil, err
	}
	msgs, err := store.ListMessages(convID)
	if err != nil {
		return nil, err
	}
	out := []models.MediaItem{}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Deleted || m.AttachmentRef == "" {
			continue
		}
		item := models.MediaItem{
			MessageID: m.ID,
			Kind:      m.AttachmentKind,
			Content:   m.Content,
			CreatedTS: m.CreatedTS,
		}
		if url, ok := s.blobs.ResolveURL(m.AttachmentRef); ok {
			item.URL = url
		}
		out = append(out, item)
	}
	return out, nil
}
