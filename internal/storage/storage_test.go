package storage

import (
	"testing"

	"github.com/VochanecA/TextDBX/internal/record"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, ModePlain, "", testLogger())

	got, err := s.Load("/db/users.tdbx")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPlainRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, ModePlain, "", testLogger())

	records := record.Collection{
		{"id": float64(1), "name": "Alice"},
		{"id": float64(2), "name": "Bob"},
	}
	require.NoError(t, s.Save("/db/users.tdbx", records))

	got, err := s.Load("/db/users.tdbx")
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestEncryptedRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, ModeEncrypted, "a reasonably long passphrase", testLogger())

	records := record.Collection{{"id": float64(1), "name": "Alice"}}
	require.NoError(t, s.Save("/db/users.tdbx", records))

	data, err := afero.ReadFile(fs, "/db/users.tdbx")
	require.NoError(t, err)
	require.NotContains(t, string(data), "Alice", "ciphertext must not leak plaintext")

	got, err := s.Load("/db/users.tdbx")
	require.NoError(t, err)
	require.Equal(t, records, got)
}

func TestEmptyFileAutoRepairs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/db/empty.tdbx", []byte{}, 0o600))

	s := New(fs, ModePlain, "", testLogger())
	got, err := s.Load("/db/empty.tdbx")
	require.NoError(t, err)
	require.Empty(t, got)

	data, err := afero.ReadFile(fs, "/db/empty.tdbx")
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestCorruptFileIsBackedUpAndReinitialized(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/db/bad.tdbx", []byte("not json"), 0o600))

	s := New(fs, ModePlain, "", testLogger())
	got, err := s.Load("/db/bad.tdbx")
	require.NoError(t, err)
	require.Empty(t, got)

	matches, err := afero.Glob(fs, "/db/bad.tdbx.backup.*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	backupData, err := afero.ReadFile(fs, matches[0])
	require.NoError(t, err)
	require.Equal(t, "not json", string(backupData))
}

func TestNonArrayPayloadAutoWraps(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/db/scalarobj.tdbx", []byte(`{"x":1}`), 0o600))

	s := New(fs, ModePlain, "", testLogger())
	got, err := s.Load("/db/scalarobj.tdbx")
	require.NoError(t, err)
	require.Equal(t, record.Collection{{"x": float64(1)}}, got)
}

func TestSaveIsAtomicViaTempRename(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, ModePlain, "", testLogger())

	require.NoError(t, s.Save("/db/x.tdbx", record.Collection{{"a": float64(1)}}))

	exists, err := afero.Exists(fs, "/db/x.tdbx.tmp")
	require.NoError(t, err)
	require.False(t, exists, "temp file must not survive a successful save")
}
