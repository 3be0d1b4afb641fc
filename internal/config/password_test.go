package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolvePassword(t *testing.T) {
	tests := []struct {
		name    string
		literal string
		content *string
		want    string
	}{
		{
			name:    "literal password",
			literal: "hunter2",
			want:    "hunter2",
		},
		{
			name:    "literal wins over file",
			literal: "hunter2",
			content: ptr("fromfile\n"),
			want:    "hunter2",
		},
		{
			name:    "trailing newline stripped",
			content: ptr("secretpass\n"),
			want:    "secretpass",
		},
		{
			name:    "windows line ending stripped",
			content: ptr("secretpass\r\n"),
			want:    "secretpass",
		},
		{
			name:    "no trailing newline",
			content: ptr("secretpass"),
			want:    "secretpass",
		},
		{
			name:    "only first line used",
			content: ptr("first\nsecond\n"),
			want:    "first",
		},
		{
			name:    "inner whitespace kept",
			content: ptr("  pass word \n"),
			want:    "  pass word ",
		},
		{
			name:    "empty file",
			content: ptr(""),
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var secretFile string
			if tt.content != nil {
				secretFile = writeSecret(t, *tt.content)
			}

			got, err := ResolvePassword(tt.literal, secretFile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePassword_NotSet(t *testing.T) {
	got, err := ResolvePassword("", "")
	assert.Empty(t, got)
	assert.ErrorIs(t, err, ErrPasswordNotSet)
}

func TestResolvePassword_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist")

	got, err := ResolvePassword("", path)
	assert.Empty(t, got)

	var secretErr *SecretFileError
	require.True(t, errors.As(err, &secretErr))
	assert.True(t, secretErr.Missing)
	assert.Equal(t, path, secretErr.Path)
	assert.Equal(t, "password file "+path+" not found", err.Error())
}

func TestResolvePassword_DirectoryIsNotAFile(t *testing.T) {
	dir := t.TempDir()

	got, err := ResolvePassword("", dir)
	assert.Empty(t, got)

	var secretErr *SecretFileError
	require.True(t, errors.As(err, &secretErr))
	assert.True(t, secretErr.Missing)
}

func TestResolvePassword_Unreadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for root")
	}

	path := writeSecret(t, "secretpass\n")
	require.NoError(t, os.Chmod(path, 0o000))

	got, err := ResolvePassword("", path)
	assert.Empty(t, got)

	var secretErr *SecretFileError
	require.True(t, errors.As(err, &secretErr))
	assert.False(t, secretErr.Missing)
	assert.ErrorIs(t, err, os.ErrPermission)
}

func ptr(s string) *string {
	return &s
}
