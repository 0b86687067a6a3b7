package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/AltairaLabs/DubKit/logger"
)

const localDirPerm = 0o750

// LocalStore is a content-addressed file store serving file:// URLs. Objects
// land under <base>/objects/<hh>/<hash><ext>, so re-uploading identical
// content is free, and a name index maps each key to its object.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the store rooted at baseDir, creating it if needed.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage directory is required")
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "objects"), localDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Name returns the backend identifier.
func (s *LocalStore) Name() string { return "local" }

// Upload copies the file into the object tree and returns its file:// URL.
func (s *LocalStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", uploadError(key, err)
	}
	if err := validateKey(key); err != nil {
		return "", uploadError(key, err)
	}

	hash, err := hashFile(localPath)
	if err != nil {
		return "", uploadError(key, err)
	}

	objectPath := filepath.Join(s.baseDir, "objects", hash[:2], hash+filepath.Ext(key))
	if _, statErr := os.Stat(objectPath); statErr != nil {
		if err := copyFile(localPath, objectPath); err != nil {
			return "", uploadError(key, err)
		}
	} else {
		logger.Debug("Object already stored, skipping copy", "key", key, "hash", hash)
	}

	if err := s.linkKey(key, objectPath); err != nil {
		return "", uploadError(key, err)
	}

	u := url.URL{Scheme: "file", Path: objectPath}
	return u.String(), nil
}

// linkKey records the key → object mapping as a small pointer file, so the
// tree stays browsable by key as well as by hash.
func (s *LocalStore) linkKey(key, objectPath string) error {
	indexPath := filepath.Join(s.baseDir, "keys", key)
	if err := os.MkdirAll(filepath.Dir(indexPath), localDirPerm); err != nil {
		return err
	}
	return os.WriteFile(indexPath, []byte(objectPath), 0o600)
}

// validateKey rejects keys that would escape the store's directory.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if filepath.IsAbs(key) {
		return fmt.Errorf("key must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("key escapes the store root")
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), localDirPerm); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
