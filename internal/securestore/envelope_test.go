package securestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastKDF = KDFParams{Time: 1, MemoryKB: 1024, Threads: 1}

func TestSealOpenRoundtrip(t *testing.T) {
	s := NewSealer("pass", fastKDF)
	data, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	assert.True(t, IsSealed(data))

	plain, err := s.Open(data)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))
}

func TestOpenWithWrongPassphraseFails(t *testing.T) {
	data, err := NewSealer("pass", fastKDF).Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = NewSealer("other", fastKDF).Open(data)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenTamperedFails(t *testing.T) {
	s := NewSealer("pass", fastKDF)
	data, err := s.Seal([]byte("secret"))
	require.NoError(t, err)
	data[len(data)-3] ^= 0xFF
	_, err = s.Open(data)
	assert.True(t, err == ErrAuthFailed || err == ErrInvalid, "unexpected error %v", err)
}

func TestOpenRejectsPlaintext(t *testing.T) {
	_, err := NewSealer("pass", fastKDF).Open([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, ErrPlaintext)
}

func TestJSONFileRoundtripSealedAndPlain(t *testing.T) {
	dir := t.TempDir()
	type state struct{ Value string }

	sealedPath := filepath.Join(dir, "sealed", "state.json")
	s := NewSealer("pass", fastKDF)
	require.NoError(t, WriteJSON(sealedPath, s, state{Value: "x"}))
	raw, err := os.ReadFile(sealedPath)
	require.NoError(t, err)
	assert.True(t, IsSealed(raw))

	var got state
	found, err := ReadJSON(sealedPath, s, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", got.Value)

	_, err = ReadJSON(sealedPath, nil, &got)
	assert.ErrorIs(t, err, ErrAuthFailed)

	plainPath := filepath.Join(dir, "plain.json")
	require.NoError(t, WriteJSON(plainPath, nil, state{Value: "y"}))
	found, err = ReadJSON(plainPath, nil, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "y", got.Value)
}

func TestReadJSONMissingFile(t *testing.T) {
	var v map[string]string
	found, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), nil, &v)
	require.NoError(t, err)
	assert.False(t, found)
}
