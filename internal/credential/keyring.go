package credential

import (
	"github.com/99designs/keyring"
	"github.com/pkg/errors"
)

// ErrKeyNotFound is returned when no password is stored for the account.
var ErrKeyNotFound = keyring.ErrKeyNotFound

type Config struct {
	ServiceName string
	// FileDir is used by the encrypted file backend when no system keyring
	// is available. Empty keeps the default under ~/.config.
	FileDir string
	// Backends restricts the candidate backends, mainly for tests.
	Backends []keyring.BackendType
}

// Store keeps IMAP passwords keyed by "user@server".
type Store struct {
	ring keyring.Keyring
}

func Open(cfg Config) (*Store, error) {
	service := cfg.ServiceName
	if service == "" {
		service = "mailfs"
	}
	fileDir := cfg.FileDir
	if fileDir == "" {
		fileDir = "~/.config/" + service + "/credentials"
	}
	backends := cfg.Backends
	if len(backends) == 0 {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		AllowedBackends:          backends,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return &Store{ring: ring}, nil
}

func Key(username, server string) string {
	return username + "@" + server
}

func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", errors.Wrapf(err, "getting credential %q", key)
	}
	return string(item.Data), nil
}

func (s *Store) Set(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailfs " + key,
	})
	if err != nil {
		return errors.Wrapf(err, "setting credential %q", key)
	}
	return nil
}

func (s *Store) Remove(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return errors.Wrapf(err, "deleting credential %q", key)
	}
	return nil
}
