// Package tokenstoresealedfile stores key-value pairs in a single file
// encrypted with an age X25519 identity. It is the on-device secure storage
// of the command line client: the file is useless without the identity.
package tokenstoresealedfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"github.com/marko-app/marko/pkg/tokenstore"
)

const fileMode = 0o600

// Backend keeps all values in one sealed file. Every write re-encrypts the
// whole map and replaces the file atomically.
type Backend struct {
	path     string
	identity *age.X25519Identity

	mu sync.Mutex
}

var _ = tokenstore.Backend(&Backend{})

func NewBackend(path string, identity *age.X25519Identity) (*Backend, error) {
	if path == "" {
		return nil, errors.New("sealed file path is required")
	}
	if identity == nil {
		return nil, errors.New("age identity is required")
	}

	return &Backend{
		path:     path,
		identity: identity,
	}, nil
}

func (b *Backend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.load()
	if err != nil {
		return "", false, err
	}

	v, ok := values[key]
	return v, ok, nil
}

func (b *Backend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.load()
	if err != nil {
		return err
	}

	values[key] = value
	return b.store(values)
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}

	delete(values, key)
	return b.store(values)
}

func (b *Backend) load() (map[string]string, error) {
	ciphertext, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sealed file: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), b.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting sealed file: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted content: %w", err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	return values, nil
}

func (b *Backend) store(values map[string]string) error {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, b.identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing age encryption: %w", err)
	}

	return writeFileAtomic(b.path, ciphertext.Bytes())
}

// LoadOrCreateIdentity reads an age identity from path, generating and
// saving a new one when the file does not exist. When several processes
// create it at once, all of them end up with the identity that was saved
// first.
func LoadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseIdentity(string(data))
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}

	err = createFileExclusive(path, []byte(identity.String()+"\n"))
	if errors.Is(err, fs.ErrExist) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading identity file: %w", err)
		}
		return ParseIdentity(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("saving identity file: %w", err)
	}

	return identity, nil
}

// ParseIdentity parses an AGE-SECRET-KEY-1... string.
func ParseIdentity(s string) (*age.X25519Identity, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid age identity: %w", err)
	}
	return identity, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}

// createFileExclusive writes data to path unless path exists, in which case
// an error matching fs.ErrExist is returned. The file appears complete or
// not at all.
func createFileExclusive(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpName) }()

	if err := os.Link(tmpName, path); err != nil {
		return fmt.Errorf("linking file: %w", err)
	}
	return nil
}

// writeTemp writes data to a synced temp file next to path and returns its
// name. The caller removes it.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	fail := func(format string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf(format, err)
	}

	if err := tmp.Chmod(fileMode); err != nil {
		return fail("setting file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fail("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	return tmpName, nil
}
