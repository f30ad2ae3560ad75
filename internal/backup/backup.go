// Package backup implements the backup/restore protocol: a timestamped
// snapshot directory holding every collection file, the metadata
// documents, and a manifest describing them.
package backup

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/VochanecA/TextDBX/internal/errs"
)

// Manifest describes the contents of one backup directory.
type Manifest struct {
	Timestamp   string   `json:"timestamp"`
	Collections []string `json:"collections"`
	Version     string   `json:"version"`
	Mode        string   `json:"mode"`
}

const ManifestVersion = "1.0"

// Create copies the .tdbx file of each named collection that exists on
// disk, plus the metadata documents, byte-for-byte into a fresh
// backup-<timestamp>-<id>/ directory under dbDir, writes manifest.json,
// and returns the directory path it created.
func Create(fs afero.Fs, dbDir string, collections []string, mode string, now time.Time) (string, error) {
	stamp := now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	backupDir := filepath.Join(dbDir, "backup-"+stamp)

	if err := fs.MkdirAll(backupDir, 0o755); err != nil {
		return "", errs.Wrap(errs.KindBackup, "create backup directory", err)
	}

	for _, name := range collections {
		if err := copyIfExists(fs, filepath.Join(dbDir, name+".tdbx"), filepath.Join(backupDir, name+".tdbx")); err != nil {
			return "", errs.Wrap(errs.KindBackup, "copy collection "+name, err)
		}
	}

	for _, meta := range []string{".auth", ".users"} {
		_ = copyIfExists(fs, filepath.Join(dbDir, meta), filepath.Join(backupDir, meta))
	}

	manifest := Manifest{
		Timestamp:   now.UTC().Format(time.RFC3339),
		Collections: collections,
		Version:     ManifestVersion,
		Mode:        mode,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.KindBackup, "marshal manifest", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(backupDir, "manifest.json"), data, 0o644); err != nil {
		return "", errs.Wrap(errs.KindBackup, "write manifest", err)
	}

	return backupDir, nil
}

// Restore reads manifest.json from backupDir, verifies its mode matches
// the engine's current mode, and copies every named file back over the
// live database directory.
func Restore(fs afero.Fs, dbDir, backupDir, currentMode string) (*Manifest, error) {
	manifestPath := filepath.Join(backupDir, "manifest.json")
	data, err := afero.ReadFile(fs, manifestPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindRestore, "read manifest", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, errs.Wrap(errs.KindRestore, "parse manifest", err)
	}

	if manifest.Mode != currentMode {
		return nil, errs.New(errs.KindValidation, fmt.Sprintf("backup mode %q does not match engine mode %q", manifest.Mode, currentMode))
	}

	for _, name := range manifest.Collections {
		src := filepath.Join(backupDir, name+".tdbx")
		dst := filepath.Join(dbDir, name+".tdbx")
		if err := copyIfExists(fs, src, dst); err != nil {
			return nil, errs.Wrap(errs.KindRestore, "restore collection "+name, err)
		}
	}
	for _, meta := range []string{".auth", ".users"} {
		_ = copyIfExists(fs, filepath.Join(backupDir, meta), filepath.Join(dbDir, meta))
	}

	return &manifest, nil
}

func copyIfExists(fs afero.Fs, src, dst string) error {
	exists, err := afero.Exists(fs, src)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, dst, data, 0o644)
}
