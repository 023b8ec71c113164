package chat

import (
	"time"

	"parley/pkg/models"
	"parley/pkg/store"
)

// SetTyping upserts the caller's typing signal for a conversation.
func (s *Service) SetTyping(caller models.User, convID string) error {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		return err
	}
	t := models.TypingSignal{ConversationID: convID, UserID: caller.ID, LastTypedAt: nowNano()}
	return store.SaveTyping(t)
}

// ClearTyping removes the caller's typing signal; clearing an absent
// signal is a no-op.
func (s *Service) ClearTyping(caller models.User, convID string) error {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		return err
	}
	return store.DeleteTyping(convID, caller.ID)
}

// ListTyping returns users currently typing in the conversation, filtered
// to signals younger than the staleness window at evaluation time and
// always excluding the caller. Stale rows are simply skipped, never
// deleted here.
func (s *Service) ListTyping(caller models.User, convID string) ([]models.UserSummary, error) {
	if _, _, err := s.loadParticipant(convID, caller.ID); err != nil {
		return nil, err
	}
	rows, err := store.ListTyping(convID)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-s.typingStale).UnixNano()
	out := []models.UserSummary{}
	for _, t := range rows {
		if t.UserID == caller.ID || t.LastTypedAt <= cutoff {
			continue
		}
		if sum := s.userSummary(t.UserID); sum != nil {
			out = append(out, *sum)
		}
	}
	return out, nil
}
