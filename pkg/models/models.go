package models

// User mirrors the identity-provider profile plus app-specific fields.
// Created on the first sign-in event; never deleted.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
	IdentityRef string `json:"identity_ref"`
	IsOnline    bool   `json:"is_online"`
	CreatedTS   int64  `json:"created_ts,omitempty"`
}

// Conversation is either a 2-party direct conversation or a group.
type Conversation struct {
	ID             string   `json:"id"`
	ParticipantIDs []string `json:"participant_ids"`
	IsGroup        bool     `json:"is_group"`
	GroupName      string   `json:"group_name,omitempty"`
	GroupAvatarRef string   `json:"group_avatar_ref,omitempty"`
	// OwnerID is set only for groups and always names a current participant.
	OwnerID       string `json:"owner_id,omitempty"`
	LastMessageID string `json:"last_message_id,omitempty"`
	// Deleted is a terminal soft-delete flag on groups; sends must fail
	// once set.
	Deleted   bool  `json:"deleted,omitempty"`
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// HasParticipant reports whether userID is in the participant set.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// RemoveParticipant returns the participant set without userID.
func (c *Conversation) RemoveParticipant(userID string) []string {
	out := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

// Membership is the per-(conversation, user) record carrying role and
// read position. LastSeenMessageID only advances, never retreats.
type Membership struct {
	ConversationID    string `json:"conversation_id"`
	UserID            string `json:"user_id"`
	Role              Role   `json:"role"`
	LastSeenMessageID string `json:"last_seen_message_id,omitempty"`
	JoinedTS          int64  `json:"joined_ts,omitempty"`
}

// Message is an append-only record; Deleted soft-deletes keep the row for
// ordering and unread math but content is hidden on display.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	AttachmentRef  string `json:"attachment_ref,omitempty"`
	AttachmentKind string `json:"attachment_kind,omitempty"`
	Deleted        bool   `json:"deleted,omitempty"`
	CreatedTS      int64  `json:"created_ts"`
}

// Reaction is one (message, user, emoji) row; presence means "reacted".
type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
	CreatedTS int64  `json:"created_ts,omitempty"`
}

// TypingSignal is an ephemeral liveness record; it logically expires a
// fixed window after LastTypedAt, evaluated at read time.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	LastTypedAt    int64  `json:"last_typed_at"`
}

// GroupUpdate is a partial update for group details; nil fields retain
// their prior values.
type GroupUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarRef *string `json:"avatar_ref,omitempty"`
}

// Apply merges the update into c, leaving unset fields untouched.
func (u GroupUpdate) Apply(c *Conversation) {
	if u.Name != nil {
		c.GroupName = *u.Name
	}
	if u.AvatarRef != nil {
		c.GroupAvatarRef = *u.AvatarRef
	}
}

// UserSummary is the participant shape embedded in enriched views.
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatar_ref,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	IsOnline  bool   `json:"is_online"`
}

// Summary returns the view shape of a user.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, AvatarRef: u.AvatarRef, IsOnline: u.IsOnline}
}

// MessageView is a message enriched for display: sender summary, reaction
// aggregate, the caller's own reactions, a resolved attachment URL and the
// isMe flag. Deleted messages keep their row but carry no content.
type MessageView struct {
	Message
	Sender         *UserSummary   `json:"sender,omitempty"`
	ReactionCounts map[string]int `json:"reaction_counts,omitempty"`
	MyReactions    []string       `json:"my_reactions,omitempty"`
	AttachmentURL  string         `json:"attachment_url,omitempty"`
	IsMe           bool           `json:"is_me"`
}

// MessagePreview is the sidebar preview of a conversation's last message.
type MessagePreview struct {
	ID        string `json:"id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Deleted   bool   `json:"deleted,omitempty"`
	CreatedTS int64  `json:"created_ts"`
}

// ConversationView is a conversation enriched for the caller: the other
// participants, the last-message preview, the derived unread count and the
// caller's role.
type ConversationView struct {
	Conversation
	GroupAvatarURL    string          `json:"group_avatar_url,omitempty"`
	OtherParticipants []UserSummary   `json:"other_participants"`
	LastMessage       *MessagePreview `json:"last_message,omitempty"`
	UnreadCount       int             `json:"unread_count"`
	MyRole            Role            `json:"my_role"`
}

// MemberView pairs a participant summary with their membership role.
type MemberView struct {
	UserSummary
	Role Role `json:"role"`
}

// MediaItem is one shared-media entry: a non-deleted message carrying an
// attachment, resolved to a retrievable URL.
type MediaItem struct {
	MessageID string `json:"message_id"`
	URL       string `json:"url,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Content   string `json:"content,omitempty"`
	CreatedTS int64  `json:"created_ts"`
}
