package main

import (
	"bytes"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	mw "github.com/kiranshivaraju/finscan/internal/api/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerate_HashMatchesKey(t *testing.T) {
	key, hash, err := generate(rand.Reader, bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, keyPrefix))
	assert.Len(t, key, len(keyPrefix)+48)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)))
}

func TestGenerate_Unique(t *testing.T) {
	a, _, err := generate(rand.Reader, bcrypt.MinCost)
	require.NoError(t, err)
	b, _, err := generate(rand.Reader, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerate_RandomFailure(t *testing.T) {
	_, _, err := generate(iotest.ErrReader(errors.New("no entropy")), bcrypt.MinCost)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "random bytes")
}

func TestRun_PrintsKeyAndEntry(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(&out, rand.Reader, bcrypt.MinCost))

	text := out.String()
	assert.Contains(t, text, "API key")
	assert.Contains(t, text, "FINSCAN_API_KEY_HASHES")

	var key, entry string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		_, val, ok := strings.Cut(line, ": ")
		require.True(t, ok, line)
		if strings.HasPrefix(line, "API key") {
			key = strings.TrimSpace(val)
		} else {
			entry = strings.TrimSpace(val)
		}
	}
	require.True(t, strings.HasPrefix(key, keyPrefix))

	// the printed entry is accepted as-is and authenticates the printed key
	prefix, hash, ok := strings.Cut(entry, ":")
	require.True(t, ok)
	assert.Equal(t, key[:mw.KeyPrefixLen], prefix)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)))

	auth, err := mw.NewAuth([]string{entry})
	require.NoError(t, err)
	assert.True(t, auth.Enabled())
}
