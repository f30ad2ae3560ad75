// Package storage implements the on-disk load/save lifecycle for a single
// collection file: atomic writes via temp-file-plus-rename, empty-file
// auto-repair, and corruption recovery with a preserved backup copy.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/VochanecA/TextDBX/internal/cryptoenvelope"
	"github.com/VochanecA/TextDBX/internal/errs"
	"github.com/VochanecA/TextDBX/internal/record"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Mode selects plain or encrypted collection file framing.
type Mode string

const (
	ModePlain     Mode = "plain"
	ModeEncrypted Mode = "encrypted"
)

// Store loads and saves collection files against a filesystem, which is
// afero.Fs so production code runs against the OS filesystem while tests
// run entirely in memory.
type Store struct {
	fs         afero.Fs
	mode       Mode
	passphrase string
	logger     *logrus.Logger

	// now is overridable in tests that need deterministic backup names.
	now func() time.Time
}

// New builds a Store. passphrase is ignored in plain mode.
func New(fs afero.Fs, mode Mode, passphrase string, logger *logrus.Logger) *Store {
	return &Store{fs: fs, mode: mode, passphrase: passphrase, logger: logger, now: time.Now}
}

// Load reads a collection file at path. Absent files return an empty
// collection. Empty files are auto-repaired in place. Files whose content
// is not valid JSON are backed up to <path>.backup.<ts> and reinitialized;
// a decryption failure in encrypted mode is returned as an error and the
// file is left untouched. A decoded value that is not a JSON array is
// wrapped in a single-element array.
func (s *Store) Load(path string) (record.Collection, error) {
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		return record.Collection{}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindFileRead, fmt.Sprintf("read %s", path), err)
	}

	if len(data) == 0 {
		s.logger.WithField("path", path).Warn("storage: empty collection file, reinitializing")
		if err := s.writeArray(path, record.Collection{}); err != nil {
			return nil, err
		}
		return record.Collection{}, nil
	}

	plaintext, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return s.recoverCorrupt(path, data)
	}

	switch v := raw.(type) {
	case []interface{}:
		return toCollection(v), nil
	case map[string]interface{}, nil:
		// Scalar or single-object payload: auto-wrap per the spec's
		// tolerant load behavior rather than failing outright.
		return record.Collection{toRecord(v)}, nil
	default:
		return record.Collection{toRecord(v)}, nil
	}
}

// recoverCorrupt preserves the original bytes next to path, reinitializes
// the file to an empty array, logs the event, and returns an empty
// collection — the engine never silently discards data.
func (s *Store) recoverCorrupt(path string, original []byte) (record.Collection, error) {
	backupPath := fmt.Sprintf("%s.backup.%d", path, s.now().UnixNano())
	if err := afero.WriteFile(s.fs, backupPath, original, 0o600); err != nil {
		return nil, errs.Wrap(errs.KindDataCorruption, fmt.Sprintf("preserve corrupt copy of %s", path), err)
	}

	s.logger.WithFields(logrus.Fields{
		"path":   path,
		"backup": backupPath,
	}).Error("storage: corrupt collection file recovered, reinitialized to empty array")

	if err := s.writeArray(path, record.Collection{}); err != nil {
		return nil, err
	}
	return record.Collection{}, nil
}

// Save serializes records as pretty-printed JSON, encrypts if configured,
// and writes via temp-file-plus-rename so readers never observe a partial
// file.
func (s *Store) Save(path string, records record.Collection) error {
	return s.writeArray(path, records)
}

func (s *Store) writeArray(path string, records record.Collection) error {
	if records == nil {
		records = record.Collection{}
	}
	plaintext, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindFileWrite, "marshal collection", err)
	}

	payload, err := s.encode(plaintext)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindFileWrite, fmt.Sprintf("ensure directory %s", dir), err)
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, payload, 0o600); err != nil {
		return errs.Wrap(errs.KindFileWrite, fmt.Sprintf("write temp file %s", tmpPath), err)
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		return errs.Wrap(errs.KindFileWrite, fmt.Sprintf("rename %s to %s", tmpPath, path), err)
	}
	return nil
}

func (s *Store) decode(data []byte) ([]byte, error) {
	if s.mode != ModeEncrypted {
		return data, nil
	}
	return cryptoenvelope.Open(s.passphrase, string(data))
}

func (s *Store) encode(plaintext []byte) ([]byte, error) {
	if s.mode != ModeEncrypted {
		return plaintext, nil
	}
	envelope, err := cryptoenvelope.Seal(s.passphrase, plaintext)
	if err != nil {
		return nil, err
	}
	return []byte(envelope), nil
}

// ModTime returns the file's current modification time, used by the cache
// to decide staleness. A missing file reports the zero time.
func (s *Store) ModTime(path string) time.Time {
	info, err := s.fs.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func toCollection(arr []interface{}) record.Collection {
	out := make(record.Collection, 0, len(arr))
	for _, v := range arr {
		out = append(out, toRecord(v))
	}
	return out
}

func toRecord(v interface{}) record.Record {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	if v == nil {
		return record.Record{}
	}
	// Genuinely scalar payloads get wrapped under a synthetic key so the
	// caller always receives record-shaped data.
	return record.Record{"value": v}
}
