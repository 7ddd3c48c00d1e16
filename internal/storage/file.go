package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBlob stores its value in one file, replaced via write-to-temp and
// rename so a crash never leaves a torn file behind.
type FileBlob struct {
	mu   sync.Mutex
	path string
	perm os.FileMode
}

func NewFileBlob(path string, perm os.FileMode) (*FileBlob, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileBlob{path: path, perm: perm}, nil
}

func (b *FileBlob) Path() string { return b.path }

func (b *FileBlob) Read() ([]byte, error) {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (b *FileBlob) WriteAtomic(value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(value); err != nil {
		cleanup()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(b.perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return syncDir(dir)
}

// FileJournal appends newline-terminated records to one file. Each record
// goes out in a single write on an O_APPEND descriptor followed by fsync.
// If either step fails the file is truncated back to its size before the
// append, so a failed append leaves no line behind.
type FileJournal struct {
	mu   sync.Mutex
	path string
	file *os.File
	sync func(*os.File) error
}

func NewFileJournal(path string, perm os.FileMode) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, perm)
	if err != nil {
		return nil, err
	}
	return &FileJournal{path: path, file: f, sync: (*os.File).Sync}, nil
}

func (j *FileJournal) Path() string { return j.path }

func (j *FileJournal) AppendAtomic(record []byte) error {
	if bytes.IndexByte(record, '\n') >= 0 {
		return errors.New("storage: journal record contains a newline")
	}
	line := make([]byte, 0, len(record)+1)
	line = append(line, record...)
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return os.ErrClosed
	}
	info, err := j.file.Stat()
	if err != nil {
		return fmt.Errorf("journal stat: %w", err)
	}
	size := info.Size()
	if _, err := j.file.Write(line); err != nil {
		return j.undo(size, fmt.Errorf("journal write: %w", err))
	}
	if err := j.sync(j.file); err != nil {
		return j.undo(size, fmt.Errorf("journal sync: %w", err))
	}
	return nil
}

// undo drops whatever a failed append left past size. If that also fails
// both errors are returned and the line may still be on disk.
func (j *FileJournal) undo(size int64, cause error) error {
	if err := j.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("journal truncate: %w", err))
	}
	_ = j.file.Sync()
	return cause
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename already
	// happened, so that is not worth failing the write over.
	_ = d.Sync()
	return nil
}

var (
	_ Blob    = (*FileBlob)(nil)
	_ Journal = (*FileJournal)(nil)
)
