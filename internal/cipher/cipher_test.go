package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := KeyFromBytes([]byte("some key material"))
	nonce, err := NewNonce()
	require.NoError(t, err)

	msgs := []uint64{0, 1, 0xFFFF, 9<<8 | 9, 1 << 63}
	units, err := Seal(key, nonce, msgs)
	require.NoError(t, err)
	require.Len(t, units, len(msgs))

	got, err := Open(key, nonce, units)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)
}

func TestSealIsNonceDependent(t *testing.T) {
	key := KeyFromBytes([]byte("k"))
	n1, _ := NewNonce()
	n2, _ := NewNonce()

	a, err := Seal(key, n1, []uint64{7, 7})
	require.NoError(t, err)
	b, err := Seal(key, n2, []uint64{7, 7})
	require.NoError(t, err)

	assert.NotEqual(t, a[0], b[0])
	// same plaintext at different positions still differs
	assert.NotEqual(t, a[0], a[1])
}

func TestOpenWrongKey(t *testing.T) {
	nonce, _ := NewNonce()
	units, err := Seal(KeyFromBytes([]byte("right")), nonce, []uint64{42})
	require.NoError(t, err)

	_, err = Open(KeyFromBytes([]byte("wrong")), nonce, units)
	assert.ErrorIs(t, err, ErrUndecryptable)
}

func TestOpenNonCanonicalUnit(t *testing.T) {
	var u Unit
	for i := range u {
		u[i] = 0xFF
	}
	_, err := Open(KeyFromBytes([]byte("k")), Nonce{}, []Unit{u})
	assert.ErrorIs(t, err, ErrUndecryptable)
}

func TestSharedKeyAgreement(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	k1, err := SharedKey(alice.Private, bob.Public)
	require.NoError(t, err)
	k2, err := SharedKey(bob.Private, alice.Public)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	carol, _ := GenerateKeyPair()
	k3, err := SharedKey(carol.Private, bob.Public)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestKeyPairFromPrivateIsDeterministic(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	again, err := KeyPairFromPrivate(kp.Private)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, again.Public)

	s1, err := kp.StateKey()
	require.NoError(t, err)
	s2, err := again.StateKey()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestTextEncoding(t *testing.T) {
	kp, _ := GenerateKeyPair()
	txt, err := kp.Public.MarshalText()
	require.NoError(t, err)

	parsed, err := ParsePublicKey("0x" + string(txt))
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)

	_, err = ParsePublicKey("abcd")
	assert.Error(t, err)

	var n Nonce
	require.NoError(t, n.UnmarshalText([]byte("000102030405060708090a0b0c0d0e0f")))
	assert.Equal(t, byte(0x0f), n[15])
}

func TestNonceElementIsBigEndian(t *testing.T) {
	e := Nonce{15: 1}.element()
	assert.True(t, e.IsOne())

	e = Nonce{14: 1}.element()
	assert.Equal(t, uint64(256), e.Uint64())
}

func TestSplitJoinUnits(t *testing.T) {
	_, err := SplitUnits(make([]byte, 33))
	assert.Error(t, err)

	blob := make([]byte, 64)
	blob[0], blob[32] = 1, 2
	units, err := SplitUnits(blob)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, byte(2), units[1][0])
	assert.Equal(t, blob, JoinUnits(units))
}
