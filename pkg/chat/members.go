package chat

import (
	"github.com/pkg/errors"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
)

// Member management actions.
const (
	ActionRemove  = "remove"
	ActionPromote = "promote"
	ActionDemote  = "demote"
)

// AddMembers adds users to a group with the member role, deduplicating
// against current participants. Owner or admin only.
func (s *Service) AddMembers(caller models.User, convID string, userIDs []string) (models.Conversation, error) {
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
	if len(userIDs) == 0 {
		return models.Conversation{}, errors.Wrap(ErrInvalidArgument, "no users given")
	}

	now := nowNano()
	added := 0
	for _, uid := range userIDs {
		if conv.HasParticipant(uid) {
			continue
		}
		if _, err := store.GetUser(uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return models.Conversation{}, errors.Wrap(ErrNotFound, "user")
			}
			return models.Conversation{}, err
		}
		m := models.Membership{ConversationID: convID, UserID: uid, Role: models.RoleMember, JoinedTS: now}
		if err := store.SaveMembership(m); err != nil {
			return models.Conversation{}, err
		}
		conv.ParticipantIDs = append(conv.ParticipantIDs, uid)
		added++
	}
	if added > 0 {
		if err := store.SaveConversation(conv); err != nil {
			return models.Conversation{}, err
		}
	}
	logger.Info("members_added", "conversation", convID, "by", caller.ID, "count", added)
	return conv, nil
}

// ManageMember removes, promotes or demotes a group member. Role rules:
// nobody acts on the owner, admins act only on plain members, and the
// caller cannot target themselves (use Leave).
func (s *Service) ManageMember(caller models.User, convID, targetID, action string) error {
	unlock := s.lockConversation(convID)
	defer unlock()

	conv, mem, err := s.loadParticipant(convID, caller.ID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return errors.Wrap(ErrInvalidArgument, "not a group conversation")
	}
	if targetID == caller.ID {
		return errors.Wrap(ErrInvalidArgument, "cannot manage yourself")
	}
	target, err := store.GetMembership(convID, targetID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.Wrap(ErrNotFound, "member")
		}
		return err
	}
	if !models.CanActOn(mem.Role, target.Role) {
		return errors.Wrap(ErrForbidden, "role does not permit acting on this member")
	}

	switch action {
	case ActionRemove:
		if err := store.DeleteMembership(convID, targetID); err != nil {
			return err
		}
		conv.ParticipantIDs = conv.RemoveParticipant(targetID)
		if err := store.SaveConversation(conv); err != nil {
			return err
		}
	case ActionPromote:
		if target.Role != models.RoleMember {
			return errors.Wrap(ErrConflict, "only members can be promoted")
		}
		target.Role = models.RoleAdmin
		if err := store.SaveMembership(target); err != nil {
			return err
		}
	case ActionDemote:
		if target.Role != models.RoleAdmin {
			return errors.Wrap(ErrConflict, "only admins can be demoted")
		}
		target.Role = models.RoleMember
		if err := store.SaveMembership(target); err != nil {
			return err
		}
	default:
		return errors.Wrap(ErrInvalidArgument, "unknown action")
	}
	logger.Info("member_managed", "conversation", convID, "by", caller.ID, "target", targetID, "action", action)
	return nil
}

// Leave removes the caller from a group. If the caller owned the group,
// ownership transfers to an existing admin when one remains, otherwise to
// an arbitrary remaining member. An emptied group is hard-deleted.
func (s *Service) Leave(caller models.User, convID string) error {
	unlock := s.lockConversation(convID)
	defer unlock()

	conv, mem, err := s.loadParticipant(convID, caller.ID)
	if err != nil {
		return err
	}
	if !conv.IsGroup {
		return errors.Wrap(ErrInvalidArgument, "cannot leave a direct conversation")
	}
	if err := store.DeleteMembership(convID, caller.ID); err != nil {
		return err
	}
	conv.ParticipantIDs = conv.RemoveParticipant(caller.ID)

	if len(conv.ParticipantIDs) == 0 {
		return store.DeleteConversationTree(convID)
	}

	if mem.Role.IsOwner() {
		heir, err := s.pickHeir(convID)
		if err != nil {
			return err
		}
		heir.Role = models.RoleOwner
		if err := store.SaveMembership(heir); err != nil {
			return err
		}
		conv.OwnerID = heir.UserID
		logger.Info("ownership_transferred", "conversation", convID, "from", caller.ID, "to", heir.UserID)
	}
	return store.SaveConversation(conv)
}

// pickHeir selects the next owner: the first admin if any, else the first
// remaining member.
func (s *Service) pickHeir(convID string) (models.Membership, error) {
	mems, err := store.ListMembers(convID)
	if err != nil {
		return models.Membership{}, err
	}
	if len(mems) == 0 {
		return models.Membership{}, errors.New("no remaining members to transfer ownership to")
	}
	for _, m := range mems {
		if m.Role == models.RoleAdmin {
			return m, nil
		}
	}
	return mems[0], nil
}
