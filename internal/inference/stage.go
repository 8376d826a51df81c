package inference

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// Stager writes payloads to uniquely named scratch files.
type Stager struct {
	dir      string
	suffix   string
	maxBytes int64
}

func NewStager(dir, suffix string, maxBytes int64) (*Stager, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max payload size must be > 0")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir scratch dir: %w", err)
	}
	return &Stager{dir: dir, suffix: suffix, maxBytes: maxBytes}, nil
}

func (s *Stager) Dir() string { return s.dir }

// StagedFile is one job's scratch copy. Release removes it exactly once.
type StagedFile struct {
	Path string
	Size int64

	once sync.Once
	err  error
}

// Stage copies payload into a new scratch file. On any error the partial file
// is removed before returning.
func (s *Stager) Stage(jobID string, payload io.Reader) (*StagedFile, error) {
	f, err := os.CreateTemp(s.dir, "job-"+jobID+"-*"+s.suffix)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	staged := &StagedFile{Path: f.Name()}

	n, err := io.Copy(f, io.LimitReader(payload, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		err = fmt.Errorf("write scratch file: %w", err)
	case n > s.maxBytes:
		err = fmt.Errorf("%w: limit is %d bytes", ErrPayloadTooLarge, s.maxBytes)
	case closeErr != nil:
		err = fmt.Errorf("close scratch file: %w", closeErr)
	}
	if err != nil {
		_ = staged.Release()
		return nil, err
	}
	staged.Size = n
	return staged, nil
}

// Release deletes the scratch file. A file that is already gone is not an
// error; later calls return the first call's result.
func (f *StagedFile) Release() error {
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.err = err
		}
	})
	return f.err
}
