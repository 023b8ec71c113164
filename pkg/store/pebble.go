package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"parley/pkg/logger"
	"parley/pkg/models"
)

var db *pebble.DB

// ErrNotFound is returned when a record is absent.
var ErrNotFound = errors.New("record not found")

// seq reduces message key collisions when multiple messages share the same
// nanosecond timestamp.
var seq uint64

// Open opens (or creates) a Pebble database at the given path and keeps a
// global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// Key layout:
//   user:<id>                          -> User
//   userident:<externalRef>            -> user id
//   conv:<id>:meta                     -> Conversation
//   conv:<id>:msg:<ns %020d>-<n %06d>  -> Message (sortable append key)
//   msgidx:<messageID>                 -> full message key
//   member:<convID>:<userID>           -> Membership
//   memberof:<userID>:<convID>         -> ""
//   react:<messageID>:<userID>:<emoji> -> Reaction
//   typing:<convID>:<userID>           -> TypingSignal

func userKey(id string) []byte          { return []byte("user:" + id) }
func userIdentKey(ref string) []byte    { return []byte("userident:" + ref) }
func convKey(id string) []byte          { return []byte("conv:" + id + ":meta") }
func msgIdxKey(id string) []byte        { return []byte("msgidx:" + id) }
func memberKey(conv, user string) []byte {
	return []byte("member:" + conv + ":" + user)
}
func memberOfKey(user, conv string) []byte {
	return []byte("memberof:" + user + ":" + conv)
}
func reactKey(msg, user, emoji string) []byte {
	return []byte("react:" + msg + ":" + user + ":" + emoji)
}
func typingKey(conv, user string) []byte {
	return []byte("typing:" + conv + ":" + user)
}

func msgKey(convID string, ts int64) []byte {
	s := atomic.AddUint64(&seq, 1)
	return []byte(fmt.Sprintf("conv:%s:msg:%020d-%06d", convID, ts, s))
}

func msgPrefix(convID string) []byte {
	return []byte("conv:" + convID + ":msg:")
}

// prefixUpperBound returns the smallest key greater than every key with the
// prefix. Key charsets here are ASCII so a 0xff sentinel suffices.
func prefixUpperBound(prefix []byte) []byte {
	return append(append([]byte(nil), prefix...), 0xff)
}

func get(key []byte, v interface{}) error {
	if db == nil {
		return notOpened()
	}
	b, closer, err := db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(b, v)
}

func set(key []byte, v interface{}) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}
	return db.Set(key, b, pebble.Sync)
}

// --- Users ---

// SaveUser writes the user record and its external-identity index entry.
func SaveUser(u models.User) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshal user")
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set(userKey(u.ID), b, nil)
	if u.IdentityRef != "" {
		_ = batch.Set(userIdentKey(u.IdentityRef), []byte(u.ID), nil)
	}
	return db.Apply(batch, pebble.Sync)
}

// GetUser returns the user record by id.
func GetUser(id string) (models.User, error) {
	var u models.User
	err := get(userKey(id), &u)
	return u, err
}

// GetUserByIdentity resolves an external identity ref to a user record.
func GetUserByIdentity(ref string) (models.User, error) {
	if db == nil {
		return models.User{}, notOpened()
	}
	b, closer, err := db.Get(userIdentKey(ref))
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	id := string(b)
	closer.Close()
	return GetUser(id)
}

// ListUsers returns every user record.
func ListUsers() ([]models.User, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("user:")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.User
	for iter.First(); iter.Valid(); iter.Next() {
		var u models.User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			continue
		}
		out = append(out, u)
	}
	return out, iter.Error()
}

// --- Conversations ---

// SaveConversation writes the conversation metadata record.
func SaveConversation(c models.Conversation) error {
	return set(convKey(c.ID), c)
}

// GetConversation returns the conversation metadata by id.
func GetConversation(id string) (models.Conversation, error) {
	var c models.Conversation
	err := get(convKey(id), &c)
	return c, err
}

// DeleteConversationTree hard-deletes the conversation metadata, all its
// membership rows and their reverse indexes, and any typing signals. The
// message log is intentionally left behind as dangling rows.
func DeleteConversationTree(convID string) error {
	if db == nil {
		return notOpened()
	}
	members, err := ListMembers(convID)
	if err != nil {
		return err
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Delete(convKey(convID), nil)
	for _, m := range members {
		_ = batch.Delete(memberKey(convID, m.UserID), nil)
		_ = batch.Delete(memberOfKey(m.UserID, convID), nil)
		_ = batch.Delete(typingKey(convID, m.UserID), nil)
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		return err
	}
	logger.Info("conversation_hard_deleted", "conversation", convID)
	return nil
}

// --- Messages ---

// AppendMessage atomically persists a message, its id index, the updated
// conversation metadata (lastMessageId pointer), and clears the sender's
// typing signal. The caller passes the loaded conversation; this function
// stamps LastMessageID before writing it back.
func AppendMessage(conv models.Conversation, msg models.Message) error {
	if db == nil {
		return notOpened()
	}
	key := msgKey(conv.ID, msg.CreatedTS)
	mb, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	conv.LastMessageID = msg.ID
	cb, err := json.Marshal(conv)
	if err != nil {
		return errors.Wrap(err, "marshal conversation")
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set(key, mb, nil)
	_ = batch.Set(msgIdxKey(msg.ID), key, nil)
	_ = batch.Set(convKey(conv.ID), cb, nil)
	_ = batch.Delete(typingKey(conv.ID, msg.SenderID), nil)
	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "conversation", conv.ID, "id", msg.ID, "error", err)
		return err
	}
	logger.Info("message_appended", "conversation", conv.ID, "id", msg.ID)
	return nil
}

// GetMessage returns a message by id via the id index.
func GetMessage(id string) (models.Message, error) {
	if db == nil {
		return models.Message{}, notOpened()
	}
	kb, closer, err := db.Get(msgIdxKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	key := append([]byte(nil), kb...)
	closer.Close()
	var m models.Message
	err = get(key, &m)
	return m, err
}

// UpdateMessage rewrites a message in place at its original key, keeping
// its position in the log. Used for soft deletes.
func UpdateMessage(msg models.Message) error {
	if db == nil {
		return notOpened()
	}
	kb, closer, err := db.Get(msgIdxKey(msg.ID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	key := append([]byte(nil), kb...)
	closer.Close()
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return db.Set(key, b, pebble.Sync)
}

// ListMessages returns all messages for a conversation in insertion order.
func ListMessages(convID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := msgPrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_invalid_message_row", "key", string(iter.Key()))
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// LatestMessage returns the newest message in a conversation, or
// ErrNotFound when the log is empty.
func LatestMessage(convID string) (models.Message, error) {
	if db == nil {
		return models.Message{}, notOpened()
	}
	prefix := msgPrefix(convID)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return models.Message{}, err
	}
	defer iter.Close()
	if !iter.Last() {
		return models.Message{}, ErrNotFound
	}
	var m models.Message
	if err := json.Unmarshal(iter.Value(), &m); err != nil {
		return models.Message{}, errors.Wrap(err, "invalid stored message")
	}
	return m, iter.Error()
}

// --- Memberships ---

// SaveMembership writes a membership row and its reverse index.
func SaveMembership(m models.Membership) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal membership")
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Set(memberKey(m.ConversationID, m.UserID), b, nil)
	_ = batch.Set(memberOfKey(m.UserID, m.ConversationID), nil, nil)
	return db.Apply(batch, pebble.Sync)
}

// GetMembership returns the membership row for (conversation, user).
func GetMembership(convID, userID string) (models.Membership, error) {
	var m models.Membership
	err := get(memberKey(convID, userID), &m)
	return m, err
}

// DeleteMembership removes a membership row, its reverse index, and the
// member's typing signal for the conversation.
func DeleteMembership(convID, userID string) error {
	if db == nil {
		return notOpened()
	}
	batch := db.NewBatch()
	defer batch.Close()
	_ = batch.Delete(memberKey(convID, userID), nil)
	_ = batch.Delete(memberOfKey(userID, convID), nil)
	_ = batch.Delete(typingKey(convID, userID), nil)
	return db.Apply(batch, pebble.Sync)
}

// ListMembers returns all membership rows for a conversation.
func ListMembers(convID string) ([]models.Membership, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("member:" + convID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Membership
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Membership
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// ListConversationIDsForUser returns ids of every conversation the user
// holds a membership in, via the reverse index.
func ListConversationIDsForUser(userID string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("memberof:" + userID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		out = append(out, string(k[len(prefix):]))
	}
	return out, iter.Error()
}

// --- Reactions ---

// SaveReaction inserts a (message, user, emoji) row.
func SaveReaction(r models.Reaction) error {
	return set(reactKey(r.MessageID, r.UserID, r.Emoji), r)
}

// DeleteReaction removes a (message, user, emoji) row if present.
func DeleteReaction(msgID, userID, emoji string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete(reactKey(msgID, userID, emoji), pebble.Sync)
}

// HasReaction reports whether the (message, user, emoji) row exists.
func HasReaction(msgID, userID, emoji string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	_, closer, err := db.Get(reactKey(msgID, userID, emoji))
	if err != nil {
		if err == pebble.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// ListReactions returns every reaction row for a message.
func ListReactions(msgID string) ([]models.Reaction, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("react:" + msgID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Reaction
	for iter.First(); iter.Valid(); iter.Next() {
		var r models.Reaction
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

// --- Typing signals ---

// SaveTyping upserts a typing signal row.
func SaveTyping(t models.TypingSignal) error {
	return set(typingKey(t.ConversationID, t.UserID), t)
}

// DeleteTyping removes a typing signal row; deleting an absent row is not
// an error.
func DeleteTyping(convID, userID string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete(typingKey(convID, userID), pebble.Sync)
}

// ListTyping returns every typing signal row for a conversation, stale
// ones included; liveness filtering happens at the read site.
func ListTyping(convID string) ([]models.TypingSignal, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("typing:" + convID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.TypingSignal
	for iter.First(); iter.Valid(); iter.Next() {
		var t models.TypingSignal
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, iter.Error()
}

// PurgeTypingOlderThan hard-deletes typing rows with LastTypedAt before
// cutoff (unix nanos) and returns how many were removed. Used by the
// retention runner; read-time staleness filtering never depends on it.
func PurgeTypingOlderThan(cutoff int64) (int, error) {
	if db == nil {
		return 0, notOpened()
	}
	prefix := []byte("typing:")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	var stale [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var t models.TypingSignal
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		if t.LastTypedAt < cutoff {
			stale = append(stale, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, err
	}
	iter.Close()
	if len(stale) == 0 {
		return 0, nil
	}
	batch := db.NewBatch()
	defer batch.Close()
	for _, k := range stale {
		_ = batch.Delete(k, nil)
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// CountRecords returns approximate record counts per namespace, for the
// readiness payload and startup banner.
func CountRecords() map[string]int {
	out := map[string]int{}
	if db == nil {
		return out
	}
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return out
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if i := strings.IndexByte(k, ':'); i > 0 {
			out[k[:i]]++
		}
	}
	return out
}
