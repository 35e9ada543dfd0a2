package mega

import (
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBase64urlRoundTrip(t *testing.T) {
	want := []byte{0x00, 0x01, 0xfe, 0xff, 0x10, 0x20, 0x30}
	enc := base64urlEncode(want)
	require.NotContains(t, enc, "=")
	got, err := base64urlDecode(enc)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestUnmergeKeyMacRequires32Bytes(t *testing.T) {
	err := unmergeKeyMac(make([]byte, 31))
	require.ErrorIs(t, err, EARGS)
}

func TestUnmergeKeyMacIsSelfInverse(t *testing.T) {
	buf := []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32,
	}
	orig := append([]byte(nil), buf...)

	require.NoError(t, unmergeKeyMac(buf))
	require.NotEqual(t, orig, buf)

	// unmergeKeyMac only touches the first 16 bytes; XORing them again with
	// the (untouched) second half restores the original buffer.
	require.NoError(t, unmergeKeyMac(buf))
	require.Equal(t, orig, buf)
}

func TestBlockDecryptEncryptRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	plain := []byte("0123456789abcdef0123456789abcdef")[:32]
	buf := append([]byte(nil), plain...)

	blockEncrypt(block, buf)
	require.NotEqual(t, plain, buf)

	blockDecrypt(block, buf)
	require.Equal(t, plain, buf)
}

func TestSeekableCTRMatchesSequentialKeystream(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	for i := range key {
		key[i] = byte(i * 7)
	}
	for i := range iv {
		iv[i] = byte(i * 3)
	}

	full, err := newSeekableCTR(key, iv)
	require.NoError(t, err)
	plain := make([]byte, 100)
	for i := range plain {
		plain[i] = byte(i)
	}
	wholeBuf := append([]byte(nil), plain...)
	full.ApplyAt(0, wholeBuf)

	// Decrypting the same plaintext in arbitrary, non-contiguous, unordered
	// ranges using fresh seekableCTR instances must match the sequential
	// keystream byte-for-byte (spec §8 invariant 3).
	ranges := [][2]int{{40, 60}, {0, 16}, {16, 40}, {60, 100}}
	scattered := make([]byte, 100)
	for _, r := range ranges {
		part, err := newSeekableCTR(key, iv)
		require.NoError(t, err)
		buf := append([]byte(nil), plain[r[0]:r[1]]...)
		part.ApplyAt(int64(r[0]), buf)
		copy(scattered[r[0]:r[1]], buf)
	}

	require.Equal(t, wholeBuf, scattered)
}

func TestDecryptEncryptAttrRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i + 1)
	}

	enc, err := encryptAttr(key, "example-file.bin")
	require.NoError(t, err)

	name, err := decryptAttr(key, enc)
	require.NoError(t, err)
	require.Equal(t, "example-file.bin", name)
}

func TestDecryptAttrRejectsMissingMagic(t *testing.T) {
	key := make([]byte, 16)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	buf := make([]byte, 16)
	var zeroIV [16]byte
	cbc := cipher.NewCBCEncrypter(block, zeroIV[:])
	cbc.CryptBlocks(buf, buf)

	_, err = decryptAttr(key, base64urlEncode(buf))
	require.ErrorIs(t, err, EINVALIDATTRS)
}
