package core

// spool.go copies an uploaded workbook to a temp file.
//
// The xlsx reader needs random access (a zip central directory lives at the
// end of the file), so the request body is spooled to disk before the job
// starts. The copy goes through a counting reader that stops one byte past
// the cap, which catches clients that lie about Content-Length. On any
// rejection the temp file is removed before returning.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// zipMagic is the local file header signature every xlsx starts with.
var zipMagic = []byte("PK\x03\x04")

// countingReader tracks bytes read and reports overflow past limit.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.n > c.limit {
		return 0, ErrFileTooLarge
	}
	// Allow one byte past the limit so overflow is observable.
	if max := c.limit - c.n + 1; int64(len(p)) > max {
		p = p[:max]
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.limit {
		return n, ErrFileTooLarge
	}
	return n, err
}

// spoolUpload writes body into a new file under dir and returns its path and
// size. It rejects empty bodies, bodies over maxSize and anything that does
// not start with a zip signature.
func spoolUpload(body io.Reader, dir string, maxSize int64) (string, int64, error) {
	br := bufio.NewReader(&countingReader{r: body, limit: maxSize})

	head, err := br.Peek(len(zipMagic))
	switch {
	case len(head) == 0 && (err == io.EOF || err == nil):
		return "", 0, ErrEmptyFile
	case errors.Is(err, ErrFileTooLarge):
		return "", 0, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, maxSize)
	case err != nil && err != io.EOF:
		return "", 0, fmt.Errorf("read upload: %w", err)
	case !bytes.Equal(head, zipMagic):
		return "", 0, ErrNotSpreadsheet
	}

	f, err := os.CreateTemp(dir, "import-*.xlsx")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()

	n, copyErr := io.Copy(f, br)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(path)
		if errors.Is(copyErr, ErrFileTooLarge) {
			return "", 0, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, maxSize)
		}
		return "", 0, fmt.Errorf("spool upload: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("close temp file: %w", closeErr)
	}
	return path, n, nil
}
