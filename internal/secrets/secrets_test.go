package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBox(t *testing.T) *Box {
	t.Helper()

	key, err := GenerateKey()
	require.NoError(t, err)

	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}

func TestSealAndOpenRoundTrip(t *testing.T) {
	box := newBox(t)

	sealed, err := box.Seal("smtp-password")
	require.NoError(t, err)

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "smtp-password", plain)
}

func TestCiphertextHidesPlaintext(t *testing.T) {
	box := newBox(t)

	sealed, err := box.Seal("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
}

func TestSealIsNonDeterministic(t *testing.T) {
	box := newBox(t)

	first, err := box.Seal("same")
	require.NoError(t, err)
	second, err := box.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := newBox(t).Seal("secret")
	require.NoError(t, err)

	_, err = newBox(t).Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsGarbage(t *testing.T) {
	box := newBox(t)

	_, err := box.Open("not base64 at all!!!")
	assert.Error(t, err)

	_, err = box.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNewBoxRejectsBadKeys(t *testing.T) {
	_, err := NewBox("definitely not base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewBox(short)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGenerateKeyLength(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
