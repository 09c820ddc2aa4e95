// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package tokenstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
)

// ageHeader is the first line of an age-encrypted file, used to tell
// encrypted token files from plain ones.
const ageHeader = "age-encryption.org/v1"

// File is a file-backed token store. The file holds a small JSON
// document, mode 0600, replaced atomically on every write. With a
// passphrase set the document is wrapped in age scrypt encryption, so
// a leaked state file alone does not yield a usable token.
//
// Writes are serialized per process. Two processes writing
// concurrently are last-writer-wins, same as the tunnel registry.
type File struct {
	// Path is the token file, e.g. <state dir>/token.json.
	Path string

	// Passphrase, when non-empty, encrypts the file at rest.
	Passphrase string

	mu sync.Mutex
}

// NewFile creates a plaintext file-backed store.
func NewFile(path string) *File {
	return &File{Path: path}
}

type tokenDocument struct {
	Token string `json:"token"`
}

// Current returns the stored token, or "" when no file exists.
func (f *File) Current() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

// CompareAndSwap replaces the token only if the stored value still
// equals old.
func (f *File) CompareAndSwap(old, new string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.read()
	if err != nil {
		return false, err
	}
	if current != old {
		return false, nil
	}
	return true, f.write(new)
}

// Set unconditionally replaces the token.
func (f *File) Set(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(token)
}

// Clear removes the token file entirely.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (f *File) read() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	if strings.HasPrefix(string(data), ageHeader) {
		if f.Passphrase == "" {
			return "", fmt.Errorf("token file %s is encrypted but no passphrase is configured", f.Path)
		}
		identity, err := age.NewScryptIdentity(f.Passphrase)
		if err != nil {
			return "", fmt.Errorf("deriving token file identity: %w", err)
		}
		reader, err := age.Decrypt(bytes.NewReader(data), identity)
		if err != nil {
			return "", fmt.Errorf("decrypting token file: %w", err)
		}
		if data, err = io.ReadAll(reader); err != nil {
			return "", fmt.Errorf("reading decrypted token file: %w", err)
		}
	}

	var document tokenDocument
	if err := json.Unmarshal(data, &document); err != nil {
		return "", fmt.Errorf("parsing token file %s: %w", f.Path, err)
	}
	return document.Token, nil
}

func (f *File) write(token string) error {
	data, err := json.Marshal(tokenDocument{Token: token})
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	if f.Passphrase != "" {
		recipient, err := age.NewScryptRecipient(f.Passphrase)
		if err != nil {
			return fmt.Errorf("deriving token file recipient: %w", err)
		}
		var ciphertext bytes.Buffer
		writer, err := age.Encrypt(&ciphertext, recipient)
		if err != nil {
			return fmt.Errorf("encrypting token file: %w", err)
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("encrypting token file: %w", err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("finalizing token file encryption: %w", err)
		}
		data = ciphertext.Bytes()
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	temporaryPath := f.Path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary token file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary token file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary token file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary token file: %w", err)
	}
	if err := os.Rename(temporaryPath, f.Path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming token file into place: %w", err)
	}
	return nil
}
