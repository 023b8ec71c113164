package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"parley/pkg/utils"
)

// UploadTarget is the handle issued to a caller before an out-of-band
// upload: the opaque ref to pass back on send, and the URL to PUT bytes to.
type UploadTarget struct {
	Ref       string `json:"ref"`
	UploadURL string `json:"upload_url"`
}

// Store is the blob collaborator consumed by the conversation core. The
// core only persists opaque refs and resolves URLs lazily at read time.
type Store interface {
	RequestUploadHandle() (UploadTarget, error)
	Put(ref string, data []byte) error
	// ResolveURL returns a retrievable URL for the ref, or false when the
	// ref is unknown. Unknown refs are not an error; views degrade to an
	// absent URL.
	ResolveURL(ref string) (string, bool)
}

// Local is a filesystem-backed Store. Refs map to files under Dir and
// resolve to /v1/blobs/{ref} URLs served by the HTTP layer.
type Local struct {
	dir     string
	maxSize int64

	mu   sync.Mutex
	open map[string]struct{} // issued handles awaiting bytes
}

// NewLocal creates the blob directory if needed and returns a Local store.
// maxSize of 0 means a 16MB default.
func NewLocal(dir string, maxSize int64) (*Local, error) {
	if dir == "" {
		return nil, errors.New("blob dir required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create blob dir")
	}
	if maxSize <= 0 {
		maxSize = 16 << 20
	}
	return &Local{dir: dir, maxSize: maxSize, open: map[string]struct{}{}}, nil
}

func (l *Local) RequestUploadHandle() (UploadTarget, error) {
	ref := utils.GenBlobRef()
	l.mu.Lock()
	l.open[ref] = struct{}{}
	l.mu.Unlock()
	return UploadTarget{Ref: ref, UploadURL: "/v1/uploads/" + ref}, nil
}

func (l *Local) Put(ref string, data []byte) error {
	if !validRef(ref) {
		return errors.Errorf("invalid blob ref %q", ref)
	}
	if int64(len(data)) > l.maxSize {
		return errors.Errorf("blob exceeds max size %d", l.maxSize)
	}
	l.mu.Lock()
	_, issued := l.open[ref]
	delete(l.open, ref)
	l.mu.Unlock()
	if !issued {
		return errors.Errorf("unknown upload handle %q", ref)
	}
	return os.WriteFile(l.path(ref), data, 0o600)
}

func (l *Local) ResolveURL(ref string) (string, bool) {
	if !validRef(ref) {
		return "", false
	}
	if _, err := os.Stat(l.path(ref)); err != nil {
		return "", false
	}
	return "/v1/blobs/" + ref, true
}

// Open returns the stored bytes for a ref, for the serving handler.
func (l *Local) Open(ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, fmt.Errorf("invalid blob ref %q", ref)
	}
	return os.ReadFile(l.path(ref))
}

// MaxSize reports the configured upload size limit in bytes.
func (l *Local) MaxSize() int64 { return l.maxSize }

func (l *Local) path(ref string) string { return filepath.Join(l.dir, ref) }

// validRef rejects refs that could escape the blob directory.
func validRef(ref string) bool {
	if ref == "" || strings.ContainsAny(ref, "/\\") || strings.Contains(ref, "..") {
		return false
	}
	return strings.HasPrefix(ref, "blob-")
}
