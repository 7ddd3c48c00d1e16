package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Keyring hands out the secrets currently accepted for verification.
type Keyring interface {
	// Secrets returns the current secret first, then any still-accepted
	// previous secret.
	Secrets() [][]byte
}

// StaticKeyring holds secrets set at startup or by Rotate.
type StaticKeyring struct {
	mu       sync.RWMutex
	current  []byte
	previous []byte
}

func NewStaticKeyring(secret []byte) *StaticKeyring {
	return &StaticKeyring{current: bytes.Clone(secret)}
}

func (k *StaticKeyring) Secrets() [][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := [][]byte{k.current}
	if len(k.previous) > 0 {
		out = append(out, k.previous)
	}
	return out
}

// Current returns the secret new commands should be signed with.
func (k *StaticKeyring) Current() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// Rotate installs next as the current secret. When keepPrevious is true the
// old one stays valid until the next rotation or Retire.
func (k *StaticKeyring) Rotate(next []byte, keepPrevious bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if bytes.Equal(next, k.current) {
		return
	}
	if keepPrevious {
		k.previous = k.current
	} else {
		k.previous = nil
	}
	k.current = bytes.Clone(next)
}

// Retire drops the previous secret.
func (k *StaticKeyring) Retire() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.previous = nil
}

// ReadSecretFile loads a secret, trimming surrounding whitespace.
func ReadSecretFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret := bytes.TrimSpace(raw)
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// FileKeyring is a StaticKeyring fed from a file. Watch reloads it whenever
// the file changes; the outgoing secret stays valid as the previous one so
// commands signed just before a rotation still verify.
type FileKeyring struct {
	*StaticKeyring
	path   string
	logger *slog.Logger
}

func NewFileKeyring(path string, logger *slog.Logger) (*FileKeyring, error) {
	secret, err := ReadSecretFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileKeyring{
		StaticKeyring: NewStaticKeyring(secret),
		path:          path,
		logger:        logger,
	}, nil
}

// Reload reads the file again and rotates if its content changed.
func (k *FileKeyring) Reload() error {
	secret, err := ReadSecretFile(k.path)
	if err != nil {
		return err
	}
	if bytes.Equal(secret, k.Current()) {
		return nil
	}
	k.Rotate(secret, true)
	k.logger.Info("control secret rotated", "path", k.path)
	return nil
}

// Watch blocks until ctx is done, reloading on every write, create or
// rename of the secret file. The parent directory is watched so editors
// that replace the file via rename are handled.
func (k *FileKeyring) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(k.path)); err != nil {
		return err
	}
	target := filepath.Clean(k.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("secret watcher closed")
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := k.Reload(); err != nil {
				k.logger.Warn("control secret reload failed", "path", k.path, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("secret watcher closed")
			}
			k.logger.Warn("secret watcher error", "error", err)
		}
	}
}

var (
	_ Keyring = (*StaticKeyring)(nil)
	_ Keyring = (*FileKeyring)(nil)
)
