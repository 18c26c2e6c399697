package crypto

import (
	"bytes"
	"crypto/subtle"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/fbrt/internal/errs"
)

func TestRand_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 48
	a, err := Rand(n)
	require.NoError(t, err)
	require.Len(t, a, n)
	b, _ := Rand(n)
	require.False(t, bytes.Equal(a, b), "Rand produced equal slices")
}

func TestDeriveKEK_DeterministicAndSaltDependent(t *testing.T) {
	t.Parallel()
	pw := []byte("secret-pass")
	k1 := DeriveKEK(pw, []byte("salt-1"))
	require.Equal(t, 1, subtle.ConstantTimeCompare(k1, DeriveKEK(pw, []byte("salt-1"))))
	require.Equal(t, 0, subtle.ConstantTimeCompare(k1, DeriveKEK(pw, []byte("salt-2"))))
	require.Equal(t, 0, subtle.ConstantTimeCompare(k1, DeriveKEK([]byte("other"), []byte("salt-1"))))
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	state := []byte(`[{"key":"c_user","value":"100"}]`)
	s, err := Seal([]byte("pw"), "main", state)
	require.NoError(t, err)
	require.Len(t, s.Salt, SaltLen)
	require.NotContains(t, string(s.Blob), "c_user")

	out, err := Open([]byte("pw"), "main", s)
	require.NoError(t, err)
	require.Equal(t, state, out)

	_, err = Open([]byte("wrong"), "main", s)
	require.ErrorIs(t, err, errs.ErrBadPassphrase)

	_, err = Open([]byte("pw"), "other", s)
	require.ErrorIs(t, err, errs.ErrBadPassphrase)

	tampered := *s
	tampered.Blob = append([]byte(nil), s.Blob...)
	tampered.Blob[len(tampered.Blob)-1] ^= 1
	_, err = Open([]byte("pw"), "main", &tampered)
	require.ErrorIs(t, err, errs.ErrBadPassphrase)

	_, err = Open([]byte("pw"), "main", &Sealed{Salt: s.Salt, WrappedKey: []byte("short"), Blob: s.Blob})
	require.Error(t, err)
}

func TestRewrap(t *testing.T) {
	t.Parallel()

	s, err := Seal([]byte("old"), "main", []byte("state"))
	require.NoError(t, err)

	r, err := Rewrap([]byte("old"), []byte("new"), s)
	require.NoError(t, err)
	require.Equal(t, s.Blob, r.Blob)

	out, err := Open([]byte("new"), "main", r)
	require.NoError(t, err)
	require.Equal(t, []byte("state"), out)

	_, err = Open([]byte("old"), "main", r)
	require.ErrorIs(t, err, errs.ErrBadPassphrase)

	_, err = Rewrap([]byte("nope"), []byte("new"), s)
	require.ErrorIs(t, err, errs.ErrBadPassphrase)
}
