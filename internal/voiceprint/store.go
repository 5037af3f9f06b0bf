// Package voiceprint implements the Voiceprint Store (spec §4.8): one
// encrypted file per enrolled user, keyed by a single process-wide secret
// held in an owner-only-permission key file.
package voiceprint

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/agalue/ember/internal/biometrics"
	"github.com/agalue/ember/internal/core"
)

const (
	recordMagic   = "EMBV"
	formatVersion = 1
	keyFileName   = ".key"
	fileSuffix    = ".voiceprint"
)

// headerLen is magic(4) + version(1) + createdUnix(8) + utteranceCount(4).
const headerLen = 4 + 1 + 8 + 4

// Store persists per-user voiceprint embeddings to disk, encrypted with a
// single process key (spec §4.8). It is safe for concurrent use.
type Store struct {
	dir string
	mu  sync.Mutex
	key []byte
}

// NewStore creates a Store rooted at dir, creating the directory (and a
// fresh key file) if it does not already exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to create voiceprint directory", err)
	}
	s := &Store{dir: dir}
	if _, err := s.loadOrCreateKey(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) keyPath() string {
	return filepath.Join(s.dir, keyFileName)
}

// loadOrCreateKey reads the 256-bit key file, generating one on first use.
// Filesystem permissions are owner-only (spec §4.8): losing this file makes
// every existing voiceprint unrecoverable by design, so it is never
// regenerated once present.
func (s *Store) loadOrCreateKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return s.key, nil
	}

	data, err := os.ReadFile(s.keyPath())
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return nil, core.NewError(core.CodeDecryptionFailed, "voiceprint key file has the wrong length")
		}
		s.key = data
		return s.key, nil
	}
	if !os.IsNotExist(err) {
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to read voiceprint key file", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to generate voiceprint key", err)
	}
	if err := os.WriteFile(s.keyPath(), key, 0o600); err != nil {
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to write voiceprint key file", err)
	}
	s.key = key
	return s.key, nil
}

func (s *Store) profilePath(user string) string {
	return filepath.Join(s.dir, user+fileSuffix)
}

// Save encrypts embedding and writes it to <dir>/<user>.voiceprint,
// overwriting any existing file for that user.
func (s *Store) Save(user string, embedding biometrics.Embedding, utteranceCount int) error {
	if err := core.ValidateUserID(user); err != nil {
		return err
	}
	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return core.Wrap(core.CodeDecryptionFailed, "failed to construct AEAD cipher", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return core.Wrap(core.CodeDecryptionFailed, "failed to generate nonce", err)
	}

	header := make([]byte, headerLen)
	copy(header[0:4], recordMagic)
	header[4] = formatVersion
	binary.BigEndian.PutUint64(header[5:13], uint64(time.Now().Unix()))
	binary.BigEndian.PutUint32(header[13:17], uint32(utteranceCount))

	plaintext := encodeEmbedding(embedding)
	ciphertext := aead.Seal(nil, nonce, plaintext, header)

	record := make([]byte, 0, headerLen+len(nonce)+len(ciphertext))
	record = append(record, header...)
	record = append(record, nonce...)
	record = append(record, ciphertext...)

	s.mu.Lock()
	defer s.mu.Unlock()
	tmpPath := s.profilePath(user) + ".tmp"
	if err := os.WriteFile(tmpPath, record, 0o600); err != nil {
		return core.Wrap(core.CodeDecryptionFailed, "failed to write voiceprint file", err)
	}
	if err := os.Rename(tmpPath, s.profilePath(user)); err != nil {
		os.Remove(tmpPath)
		return core.Wrap(core.CodeDecryptionFailed, "failed to finalize voiceprint file", err)
	}
	return nil
}

// Load decrypts and returns the embedding stored for user. Tampered or
// truncated records fail decryption and are reported as CodeDecryptionFailed
// rather than silently ignored (spec §4.8).
func (s *Store) Load(user string) (biometrics.Embedding, error) {
	if err := core.ValidateUserID(user); err != nil {
		return nil, err
	}
	key, err := s.loadOrCreateKey()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.profilePath(user))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.NewError(core.CodeModelMissing, "no voiceprint on file for user").WithField("user", user)
		}
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to read voiceprint file", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to construct AEAD cipher", err)
	}

	if len(data) < headerLen+aead.NonceSize() {
		return nil, core.NewError(core.CodeDecryptionFailed, "voiceprint record is truncated").WithField("user", user)
	}
	header := data[:headerLen]
	if string(header[0:4]) != recordMagic {
		return nil, core.NewError(core.CodeDecryptionFailed, "voiceprint record has an invalid magic").WithField("user", user)
	}

	nonce := data[headerLen : headerLen+aead.NonceSize()]
	ciphertext := data[headerLen+aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, core.Wrap(core.CodeDecryptionFailed, "voiceprint record failed authentication", err).WithField("user", user)
	}

	return decodeEmbedding(plaintext)
}

// Exists reports whether a voiceprint file is present for user.
func (s *Store) Exists(user string) bool {
	_, err := os.Stat(s.profilePath(user))
	return err == nil
}

// Delete removes the voiceprint file for user, per delete_profile.
func (s *Store) Delete(user string) error {
	if err := core.ValidateUserID(user); err != nil {
		return err
	}
	if err := os.Remove(s.profilePath(user)); err != nil && !os.IsNotExist(err) {
		return core.Wrap(core.CodeDecryptionFailed, "failed to delete voiceprint file", err)
	}
	return nil
}

// List returns every enrolled user id with a voiceprint on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, core.Wrap(core.CodeDecryptionFailed, "failed to list voiceprint directory", err)
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		users = append(users, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	return users, nil
}

// encodeEmbedding serializes a float32 embedding as a length-prefixed,
// big-endian flat buffer.
func encodeEmbedding(e biometrics.Embedding) []byte {
	buf := make([]byte, 4+len(e)*4)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(e)))
	for i, v := range e {
		binary.BigEndian.PutUint32(buf[4+i*4:8+i*4], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) (biometrics.Embedding, error) {
	if len(buf) < 4 {
		return nil, errors.New("embedding payload too short")
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	want := 4 + int(n)*4
	if len(buf) != want {
		return nil, errors.New("embedding payload length mismatch")
	}
	out := make(biometrics.Embedding, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[4+i*4 : 8+i*4]))
	}
	return out, nil
}
