package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// seq disambiguates message ids minted in the same nanosecond.
var seq uint64

// GenUserID returns a new opaque user id.
func GenUserID() string { return "user-" + uuid.NewString() }

// GenConversationID returns a new opaque conversation id.
func GenConversationID() string { return "conv-" + uuid.NewString() }

// GenBlobRef returns a new opaque blob storage handle.
func GenBlobRef() string { return "blob-" + uuid.NewString() }

// GenMessageID returns a message id that sorts by creation time, with a
// counter breaking nanosecond ties so no two messages share an id.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}
