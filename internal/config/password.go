package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ErrPasswordNotSet is returned when neither a literal password nor a secret
// file was given.
var ErrPasswordNotSet = errors.New("password for binddn is not set")

// SecretFileError reports a secret file that could not be used.
type SecretFileError struct {
	Path    string
	Missing bool  // The file does not exist or is not a regular file
	Err     error // Underlying read error, nil when Missing
}

func (e *SecretFileError) Error() string {
	if e.Missing {
		return fmt.Sprintf("password file %s not found", e.Path)
	}
	return fmt.Sprintf("failed to read password file %s: %v", e.Path, e.Err)
}

func (e *SecretFileError) Unwrap() error {
	return e.Err
}

// ResolvePassword picks the bind password. A non-empty literal wins; otherwise
// the first line of secretFile is used with its line terminator stripped. On
// error the returned password is always empty.
func ResolvePassword(literal, secretFile string) (string, error) {
	if literal != "" {
		return literal, nil
	}

	if secretFile == "" {
		return "", ErrPasswordNotSet
	}

	info, err := os.Stat(secretFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &SecretFileError{Path: secretFile, Missing: true}
		}
		return "", &SecretFileError{Path: secretFile, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &SecretFileError{Path: secretFile, Missing: true}
	}

	password, err := readFirstLine(secretFile)
	if err != nil {
		return "", &SecretFileError{Path: secretFile, Err: err}
	}

	return password, nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}
