// Package blob stores uploaded message images on the local filesystem.
package blob

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/teris-io/shortid"
	"golang.org/x/crypto/blake2b"
)

const URLPrefix = "/images/uploads/"

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")

	keyPattern = regexp.MustCompile(`^[0-9A-Za-z_-]+(\.[0-9A-Za-z]+)?$`)
)

// URL returns the path under which a blob is served.
func URL(key string) string {
	return URLPrefix + key
}

type Store struct {
	dir   string
	etags sync.Map // key -> etag
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func extensionFor(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// Put writes r to a new blob and returns its key. The content is hashed
// while it is written so the ETag is known without a second read.
func (s *Store) Put(r io.Reader, contentType string) (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate blob key: %w", err)
	}
	key := id + extensionFor(contentType)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	h, err := blake2b.New256(nil)
	if err != nil {
		tmp.Close()
		return "", err
	}

	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}

	s.etags.Store(key, etag(h.Sum(nil)))
	return key, nil
}

func etag(sum []byte) string {
	return `"` + hex.EncodeToString(sum) + `"`
}

func (s *Store) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.dir, key), nil
}

// Open returns the blob content and its ETag. The caller closes the file.
func (s *Store) Open(key string) (*os.File, string, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	if tag, ok := s.etags.Load(key); ok {
		return f, tag.(string), nil
	}

	// blobs written by an earlier process have no cached tag yet
	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("hash blob: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", err
	}

	tag := etag(h.Sum(nil))
	s.etags.Store(key, tag)
	return f, tag, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	s.etags.Delete(key)
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
