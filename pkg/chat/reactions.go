package chat

import (
	"sort"

	"github.com/pkg/errors"

	"parley/pkg/emoji"
	"parley/pkg/models"
	"parley/pkg/store"
)

// ReactionState is the post-toggle reaction view of one message.
type ReactionState struct {
	Counts map[string]int `json:"counts"`
	Mine   []string       `json:"mine"`
}

// ToggleReaction flips the (message, caller, emoji) row: present rows are
// deleted, absent rows inserted. The emoji must come from the fixed
// vocabulary, and the caller must be a participant of the message's
// conversation.
func (s *Service) ToggleReaction(caller models.User, messageID, em string) (ReactionState, error) {
	if err := emoji.ValidateReaction(em); err != nil {
		return ReactionState{}, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	msg, err := store.GetMessage(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ReactionState{}, errors.Wrap(ErrNotFound, "message")
		}
		return ReactionState{}, err
	}
	if _, _, err := s.loadParticipant(msg.ConversationID, caller.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ReactionState{}, errors.Wrap(ErrNotFound, "message")
		}
		return ReactionState{}, err
	}

	exists, err := store.HasReaction(messageID, caller.ID, em)
	if err != nil {
		return ReactionState{}, err
	}
	if exists {
		if err := store.DeleteReaction(messageID, caller.ID, em); err != nil {
			return ReactionState{}, err
		}
	} else {
		r := models.Reaction{MessageID: messageID, UserID: caller.ID, Emoji: em, CreatedTS: nowNano()}
		if err := store.SaveReaction(r); err != nil {
			return ReactionState{}, err
		}
	}

	counts, mine, err := s.reactionAggregate(messageID, caller.ID)
	if err != nil {
		return ReactionState{}, err
	}
	return ReactionState{Counts: counts, Mine: mine}, nil
}

// reactionAggregate groups a message's reactions by emoji and extracts the
// caller's own set.
func (s *Service) reactionAggregate(messageID, callerID string) (map[string]int, []string, error) {
	rows, err := store.ListReactions(messageID)
	if err != nil {
		return nil, nil, err
	}
	counts := map[string]int{}
	var mine []string
	for _, r := range rows {
		counts[r.Emoji]++
		if r.UserID == callerID {
			mine = append(mine, r.Emoji)
		}
	}
	sort.Strings(mine)
	return counts, mine, nil
}
