package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zhouzirui/scribe/backend/internal/model/audio"
)

// LocalBucket is the bucket name reported for objects in a Local store.
const LocalBucket = "local"

// Local implements BlobStore on top of the local filesystem. Objects are
// reachable at publicBaseURL/<key> once the process serves Root() over HTTP.
type Local struct {
	root          string
	publicBaseURL string
}

// NewLocal creates a Local store rooted at dir.
// The directory is created (with parents) if it does not already exist.
func NewLocal(dir, publicBaseURL string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Root returns the absolute directory objects are written under.
func (l *Local) Root() string {
	return l.root
}

// resolve turns a key into an absolute filesystem path inside root.
func (l *Local) resolve(key string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage: key %q escapes root", key)
	}
	return full, nil
}

// Begin creates the target file, truncating any previous object under key.
func (l *Local) Begin(_ context.Context, key, _ string) (Upload, error) {
	full, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, err
	}
	return &localUpload{store: l, key: key, path: full, f: f}, nil
}

type localUpload struct {
	store *Local
	key   string
	path  string
	f     *os.File
}

func (u *localUpload) WritePart(_ context.Context, p []byte) error {
	if u.f == nil {
		return ErrUploadClosed
	}
	if _, err := u.f.Write(p); err != nil {
		return fmt.Errorf("storage: write %s: %w", u.key, err)
	}
	return nil
}

func (u *localUpload) Complete(_ context.Context) (audio.BlobReference, error) {
	if u.f == nil {
		return audio.BlobReference{}, ErrUploadClosed
	}
	err := u.f.Close()
	u.f = nil
	if err != nil {
		return audio.BlobReference{}, fmt.Errorf("storage: close %s: %w", u.key, err)
	}

	uri := "file://" + filepath.ToSlash(u.path)
	if u.store.publicBaseURL != "" {
		uri = u.store.publicBaseURL + "/" + u.key
	}
	return audio.BlobReference{Bucket: LocalBucket, Key: u.key, URI: uri}, nil
}

// Abort closes and removes the partial file.
func (u *localUpload) Abort(_ context.Context) error {
	if u.f == nil {
		return nil
	}
	u.f.Close()
	u.f = nil
	if err := os.Remove(u.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Compile-time interface check.
var _ BlobStore = (*Local)(nil)
