// Package secrets implements the secret store (spec.md §4, persisted state
// layout): an envelope-encrypted name/value map, AES-256-GCM under the
// envelope, keyed either from a per-install device key (device mode) or
// from an operator passphrase run through a memory-hard KDF (portable
// mode). Legacy unencrypted secrets.json is migrated once, in place.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
)

const (
	secretsFile       = "secrets.enc.json"
	legacySecretsFile = "secrets.json"
	deviceKeyFile     = "device.key"

	keyLen = 32 // AES-256

	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
)

// Mode selects how the store derives its envelope key.
type Mode string

const (
	ModeDevice   Mode = "device"
	ModePortable Mode = "portable"
)

// ErrLocked is returned by the operations that need the envelope key
// (SetSecret, GetSecret of a stored name, a mode switch with stored
// entries) on a portable-mode store that hasn't been unlocked with its
// passphrase yet. Names, CurrentMode and DeleteSecret work while locked.
var ErrLocked = errors.New("secrets: store is locked, passphrase required")

// ErrPassphraseRequired is returned by SetMode when switching to portable
// mode without supplying a passphrase.
var ErrPassphraseRequired = errors.New("secrets: passphrase required to switch to portable mode")

type secretEntry struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// secretsDoc is the on-disk shape of secrets.enc.json. Only KDFSalt is
// persisted for portable mode — never the passphrase or derived key.
type secretsDoc struct {
	Mode               Mode                   `json:"mode"`
	KDFSalt            string                 `json:"kdf_salt,omitempty"`
	Entries            map[string]secretEntry `json:"entries"`
	MigratedFromLegacy bool                   `json:"migrated_from_legacy,omitempty"`
}

// Store is the envelope-encrypted secret map for one project. ArchonHome is
// needed independently of StateIO because the device key lives at the
// install root, shared across every project, not under any one project's
// state directory.
type Store struct {
	mu         sync.Mutex
	io         stateio.StateIO
	archonHome string
	doc        secretsDoc
	key        []byte // nil when a portable-mode store hasn't been unlocked yet
}

// NewStore returns a Store backed by io for project-scoped persistence and
// archonHome for the shared device key.
func NewStore(io stateio.StateIO, archonHome string) *Store {
	return &Store{io: io, archonHome: archonHome}
}

// ApplyPersistedState loads secrets.enc.json, migrating a legacy plaintext
// secrets.json in place on first encounter. Device-mode stores derive their
// key immediately; portable-mode stores come up locked until Unlock is
// called.
func (s *Store) ApplyPersistedState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := stateio.ReadJSON(s.io, secretsFile, secretsDoc{Mode: ModeDevice, Entries: map[string]secretEntry{}})
	if err != nil {
		return err
	}
	if doc.Entries == nil {
		doc.Entries = map[string]secretEntry{}
	}
	s.doc = doc

	if _, ok, _ := s.io.ReadRaw(secretsFile); !ok {
		if _, err := s.migrateLegacyLocked(); err != nil {
			return err
		}
	}

	if s.doc.Mode == ModeDevice {
		key, err := s.loadOrCreateDeviceKeyLocked()
		if err != nil {
			return err
		}
		s.key = key
	}
	return nil
}

// migrateLegacyLocked performs the one-time migration of a plaintext
// secrets.json into the encrypted envelope, defaulting the new store to
// device mode. Idempotent by the presence of secrets.enc.json, checked by
// the caller before invoking this.
func (s *Store) migrateLegacyLocked() (bool, error) {
	data, ok, err := s.io.ReadRaw(legacySecretsFile)
	if err != nil || !ok {
		return false, nil
	}
	var legacy map[string]string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return false, nil // malformed legacy file: nothing to migrate, leave it be
	}

	key, err := s.loadOrCreateDeviceKeyLocked()
	if err != nil {
		return false, err
	}
	s.key = key
	s.doc = secretsDoc{Mode: ModeDevice, Entries: map[string]secretEntry{}, MigratedFromLegacy: true}

	names := make([]string, 0, len(legacy))
	for name := range legacy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entry, err := s.sealLocked(legacy[name])
		if err != nil {
			return false, fmt.Errorf("secrets: migrate legacy entry %q: %w", name, err)
		}
		s.doc.Entries[name] = entry
	}
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) loadOrCreateDeviceKeyLocked() ([]byte, error) {
	path := filepath.Join(s.archonHome, deviceKeyFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != keyLen {
			return nil, fmt.Errorf("secrets: device key at %s has unexpected length %d", path, len(data))
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("secrets: read device key: %w", err)
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("secrets: generate device key: %w", err)
	}
	if err := os.MkdirAll(s.archonHome, 0o700); err != nil {
		return nil, fmt.Errorf("secrets: create archon home: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("secrets: write device key: %w", err)
	}
	return key, nil
}

// Unlock derives the portable-mode key from passphrase and the persisted
// salt, readying a portable store for reads and writes. A no-op (and
// harmless) on a device-mode store.
func (s *Store) Unlock(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Mode != ModePortable {
		return nil
	}
	key, err := s.derivePortableKeyLocked(passphrase)
	if err != nil {
		return err
	}
	s.key = key
	return nil
}

func (s *Store) derivePortableKeyLocked(passphrase string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(s.doc.KDFSalt)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode kdf salt: %w", err)
	}
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, keyLen), nil
}

// SetMode switches the store's envelope key, re-encrypting every existing
// entry under the new key before committing. Switching to portable requires
// passphrase; switching to device never does, since the device key is
// ambient to the install.
func (s *Store) SetMode(mode string, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newMode := Mode(mode)
	switch newMode {
	case ModeDevice:
		key, err := s.loadOrCreateDeviceKeyLocked()
		if err != nil {
			return err
		}
		if err := s.reencryptLocked(key); err != nil {
			return err
		}
		s.doc.Mode = ModeDevice
		s.doc.KDFSalt = ""
		s.key = key

	case ModePortable:
		if passphrase == "" {
			return ErrPassphraseRequired
		}
		salt := make([]byte, 16)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("secrets: generate kdf salt: %w", err)
		}
		key := argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, keyLen)
		if err := s.reencryptLocked(key); err != nil {
			return err
		}
		s.doc.Mode = ModePortable
		s.doc.KDFSalt = base64.StdEncoding.EncodeToString(salt)
		s.key = key

	default:
		return fmt.Errorf("secrets: unknown mode %q", mode)
	}

	return s.persistLocked()
}

// reencryptLocked decrypts every entry under the current key and re-seals
// it under newKey, failing atomically (no entries mutated) if any entry
// can't be decrypted under the current key.
func (s *Store) reencryptLocked(newKey []byte) error {
	if s.key == nil {
		if len(s.doc.Entries) > 0 {
			return ErrLocked
		}
		s.doc.Entries = map[string]secretEntry{}
		return nil
	}

	plaintexts := make(map[string]string, len(s.doc.Entries))
	for name, entry := range s.doc.Entries {
		value, err := open(s.key, entry)
		if err != nil {
			return fmt.Errorf("secrets: decrypt %q during mode switch: %w", name, err)
		}
		plaintexts[name] = value
	}

	resealed := make(map[string]secretEntry, len(plaintexts))
	for name, value := range plaintexts {
		entry, err := seal(newKey, value)
		if err != nil {
			return fmt.Errorf("secrets: reseal %q during mode switch: %w", name, err)
		}
		resealed[name] = entry
	}
	s.doc.Entries = resealed
	return nil
}

func (s *Store) sealLocked(value string) (secretEntry, error) {
	if s.key == nil {
		return secretEntry{}, ErrLocked
	}
	return seal(s.key, value)
}

// SetSecret encrypts and stores value under name, overwriting any prior
// value.
func (s *Store) SetSecret(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.sealLocked(value)
	if err != nil {
		return err
	}
	s.doc.Entries[name] = entry
	return s.persistLocked()
}

// GetSecret decrypts and returns the value stored under name.
func (s *Store) GetSecret(name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.doc.Entries[name]
	if !ok {
		return "", false, nil
	}
	if s.key == nil {
		return "", false, ErrLocked
	}
	value, err := open(s.key, entry)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteSecret removes name. A no-op, not an error, if name was never set.
func (s *Store) DeleteSecret(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Entries, name)
	return s.persistLocked()
}

// Names returns every stored secret's name, sorted, without decrypting any
// value.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.doc.Entries))
	for name := range s.doc.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CurrentMode reports the store's active key-derivation mode.
func (s *Store) CurrentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Mode
}

func (s *Store) persistLocked() error {
	return stateio.WriteJSON(s.io, secretsFile, s.doc)
}

func seal(key []byte, plaintext string) (secretEntry, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return secretEntry{}, fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return secretEntry{}, fmt.Errorf("secrets: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return secretEntry{}, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return secretEntry{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func open(key []byte, entry secretEntry) (string, error) {
	nonce, err := base64.StdEncoding.DecodeString(entry.Nonce)
	if err != nil {
		return "", fmt.Errorf("secrets: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: new gcm: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}
