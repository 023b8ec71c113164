package chat

import (
	"strings"

	"github.com/pkg/errors"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/store"
	"parley/pkg/utils"
)

// SyncUser upserts a user record from an identity-provider sign-in event.
// The first sync creates the record; later syncs refresh profile fields.
func (s *Service) SyncUser(identityRef, name, email, avatarRef string) (models.User, error) {
	identityRef = strings.TrimSpace(identityRef)
	if identityRef == "" {
		return models.User{}, errors.Wrap(ErrInvalidArgument, "identity ref required")
	}
	u, err := store.GetUserByIdentity(identityRef)
	switch {
	case err == nil:
		changed := false
		if name != "" && name != u.Name {
			u.Name = name
			changed = true
		}
		if email != "" && email != u.Email {
			u.Email = email
			changed = true
		}
		if avatarRef != "" && avatarRef != u.AvatarRef {
			u.AvatarRef = avatarRef
			changed = true
		}
		if changed {
			if err := store.SaveUser(u); err != nil {
				return models.User{}, err
			}
		}
		return u, nil
	case errors.Is(err, store.ErrNotFound):
		u = models.User{
			ID:          utils.GenUserID(),
			Name:        name,
			Email:       email,
			AvatarRef:   avatarRef,
			IdentityRef: identityRef,
			IsOnline:    true,
			CreatedTS:   nowNano(),
		}
		if err := store.SaveUser(u); err != nil {
			return models.User{}, err
		}
		logger.Info("user_created", "user", u.ID)
		return u, nil
	default:
		return models.User{}, err
	}
}

// ListUsers returns every user except the caller, for contact pickers.
func (s *Service) ListUsers(caller models.User) ([]models.UserSummary, error) {
	users, err := store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		if u.ID == caller.ID {
			continue
		}
		sum := u.Summary()
		sum.AvatarURL = s.avatarURL(u.AvatarRef)
		out = append(out, sum)
	}
	return out, nil
}

// GetUser returns one user's summary by id, for profile panes.
func (s *Service) GetUser(userID string) (models.UserSummary, error) {
	u, err := store.GetUser(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.UserSummary{}, errors.Wrap(ErrNotFound, "user")
		}
		return models.UserSummary{}, err
	}
	sum := u.Summary()
	sum.AvatarURL = s.avatarURL(u.AvatarRef)
	return sum, nil
}

// Me returns the caller's own summary with a resolved avatar URL.
func (s *Service) Me(caller models.User) models.UserSummary {
	sum := caller.Summary()
	sum.AvatarURL = s.avatarURL(caller.AvatarRef)
	return sum
}

// UpdateOnlineStatus records an explicit presence signal from the client.
func (s *Service) UpdateOnlineStatus(caller models.User, online bool) error {
	if caller.IsOnline == online {
		return nil
	}
	caller.IsOnline = online
	return store.SaveUser(caller)
}
