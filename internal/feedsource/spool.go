package feedsource

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/feedpipe/internal/feed"
)

// SpooledFile is a temporary copy of an upload. Closing it removes the
// file.
type SpooledFile struct {
	*os.File
	Size int64
}

// Close closes and deletes the temporary file.
func (s *SpooledFile) Close() error {
	err := s.File.Close()
	if rerr := os.Remove(s.File.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

// Spool copies r into a temporary file in dir (the OS default when empty)
// and rewinds it. Inputs longer than limit bytes fail with
// feed.ErrFeedTooLarge; a
// limit <= 0 disables the check.
func Spool(r io.Reader, dir string, limit int64) (*SpooledFile, error) {
	f, err := os.CreateTemp(dir, "feedpipe-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	spooled := &SpooledFile{File: f}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		spooled.Close()
		return nil, fmt.Errorf("spool upload: %w", err)
	}
	if limit > 0 && n > limit {
		spooled.Close()
		return nil, fmt.Errorf("%w: upload exceeds %d bytes", feed.ErrFeedTooLarge, limit)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		spooled.Close()
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	spooled.Size = n
	return spooled, nil
}
