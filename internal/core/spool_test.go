package core

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpoolUpload(t *testing.T) {
	zipBody := append([]byte("PK\x03\x04"), bytes.Repeat([]byte("x"), 60)...)

	tests := []struct {
		name    string
		body    []byte
		max     int64
		wantErr error
	}{
		{"ok", zipBody, 64, nil},
		{"empty", nil, 64, ErrEmptyFile},
		{"one byte over", append(zipBody, 'y'), 64, ErrFileTooLarge},
		{"way over", bytes.Repeat(zipBody, 100), 64, ErrFileTooLarge},
		{"csv", []byte("Column Name,Card Title\nTodo,A\n"), 64, ErrNotSpreadsheet},
		{"short", []byte("PK"), 64, ErrNotSpreadsheet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path, n, err := spoolUpload(bytes.NewReader(tt.body), dir, tt.max)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				entries, _ := os.ReadDir(dir)
				assert.Empty(t, entries, "temp file left behind")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.body)), n)
			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.body, got)
		})
	}
}

func TestCountingReader_StopsPastLimit(t *testing.T) {
	cr := &countingReader{r: strings.NewReader(strings.Repeat("a", 100)), limit: 10}
	buf := make([]byte, 64)

	n, err := cr.Read(buf)
	assert.Equal(t, 11, n)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	n, err = cr.Read(buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}
