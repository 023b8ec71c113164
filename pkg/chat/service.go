package chat

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"parley/pkg/blob"
	"parley/pkg/models"
	"parley/pkg/store"
)

const (
	defaultTypingStale     = 2000 * time.Millisecond
	defaultMaxContentLen   = 4000
	defaultMaxGroupNameLen = 100
)

// Options tunes service limits; zero values take the defaults above.
type Options struct {
	TypingStale     time.Duration
	MaxContentLen   int
	MaxGroupNameLen int
}

// Service implements the conversation, membership, message, reaction and
// typing operations on top of the store. The caller identity is an
// explicit parameter on every operation, never ambient state.
type Service struct {
	blobs           blob.Store
	typingStale     time.Duration
	maxContentLen   int
	maxGroupNameLen int

	// dmMu serializes direct-conversation compare-and-create so two
	// concurrent first contacts between the same pair cannot create
	// duplicate conversations.
	dmMu sync.Mutex

	// convLocks serializes read-modify-write cycles on a conversation
	// record and its membership rows, keyed by conversation id. Without
	// it a Send racing a membership change writes a stale participant
	// set back over the committed one.
	convLocksMu sync.Mutex
	convLocks   map[string]*sync.Mutex
}

// New builds a Service over the opened store and the given blob store.
func New(blobs blob.Store, opts Options) *Service {
	s := &Service{
		blobs:           blobs,
		typingStale:     opts.TypingStale,
		maxContentLen:   opts.MaxContentLen,
		maxGroupNameLen: opts.MaxGroupNameLen,
		convLocks:       map[string]*sync.Mutex{},
	}
	if s.typingStale <= 0 {
		s.typingStale = defaultTypingStale
	}
	if s.maxContentLen <= 0 {
		s.maxContentLen = defaultMaxContentLen
	}
	if s.maxGroupNameLen <= 0 {
		s.maxGroupNameLen = defaultMaxGroupNameLen
	}
	return s
}

// TypingStale returns the typing liveness window.
func (s *Service) TypingStale() time.Duration { return s.typingStale }

// ResolveCaller maps a verified external identity ref to its user record.
// A missing record means the identity has never synced and the caller is
// treated as unauthenticated.
func (s *Service) ResolveCaller(identityRef string) (models.User, error) {
	if identityRef == "" {
		return models.User{}, ErrUnauthenticated
	}
	u, err := store.GetUserByIdentity(identityRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.User{}, errors.Wrap(ErrUnauthenticated, "unknown identity")
		}
		return models.User{}, err
	}
	return u, nil
}

// avatarURL resolves a blob ref to a retrievable URL, empty when the ref
// is unset or the blob store cannot resolve it.
func (s *Service) avatarURL(ref string) string {
	if ref == "" || s.blobs == nil {
		return ""
	}
	if url, ok := s.blobs.ResolveURL(ref); ok {
		return url
	}
	return ""
}

func (s *Service) userSummary(id string) *models.UserSummary {
	u, err := store.GetUser(id)
	if err != nil {
		return nil
	}
	sum := u.Summary()
	sum.AvatarURL = s.avatarURL(u.AvatarRef)
	return &sum
}

// loadParticipant loads a live conversation and the caller's membership in
// it. Non-participants and soft-deleted conversations get ErrNotFound so
// existence is never confirmed to outsiders.
func (s *Service) loadParticipant(convID, userID string) (models.Conversation, models.Membership, error) {
	conv, err := store.GetConversation(convID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, models.Membership{}, errors.Wrap(ErrNotFound, "conversation")
		}
		return models.Conversation{}, models.Membership{}, err
	}
	if conv.Deleted {
		return models.Conversation{}, models.Membership{}, errors.Wrap(ErrNotFound, "conversation")
	}
	mem, err := store.GetMembership(convID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Conversation{}, models.Membership{}, errors.Wrap(ErrNotFound, "conversation")
		}
		return models.Conversation{}, models.Membership{}, err
	}
	return conv, mem, nil
}

// lockConversation takes the mutation lock for one conversation and
// returns its unlock. Every operation that loads the conversation record
// or a membership row and writes it back holds this for the whole cycle.
func (s *Service) lockConversation(convID string) func() {
	s.convLocksMu.Lock()
	l, ok := s.convLocks[convID]
	if !ok {
		l = &sync.Mutex{}
		s.convLocks[convID] = l
	}
	s.convLocksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func nowNano() int64 { return time.Now().UnixNano() }
