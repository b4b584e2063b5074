package envelope

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"

	"github.com/Shugur-Network/portal/internal/errors"
)

// NIP-44 v2 authenticated encryption: ECDH(server_privkey, peer_pubkey)
// feeds HKDF-extract to a conversation key, each message then derives its
// own ChaCha20 key/nonce and HMAC-SHA256 key via HKDF-expand on a random
// 32-byte nonce. Ciphertext layout: version || nonce || ciphertext || mac.

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

func conversationKey(privHex, peerPubHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, errors.CryptoError("invalid private key hex", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)

	pubBytes, err := hex.DecodeString(peerPubHex)
	if err != nil {
		return nil, errors.CryptoError("invalid peer pubkey hex", err)
	}
	if len(pubBytes) != 32 {
		return nil, errors.CryptoError("peer pubkey must be 32 bytes (x-only)", nil)
	}

	pub, err := parseXOnlyPubkey(pubBytes)
	if err != nil {
		return nil, errors.CryptoError("invalid peer pubkey", err)
	}

	sharedX, _ := pub.ToECDSA().Curve.ScalarMult(pub.X(), pub.Y(), priv.Serialize())

	sharedXBytes := make([]byte, 32)
	raw := sharedX.Bytes()
	copy(sharedXBytes[32-len(raw):], raw)

	return hkdf.Extract(sha256.New, sharedXBytes, []byte(nip44Salt)), nil
}

func parseXOnlyPubkey(xOnly []byte) (*btcec.PublicKey, error) {
	prefixed := append([]byte{0x02}, xOnly...)
	pub, err := btcec.ParsePubKey(prefixed)
	if err == nil {
		return pub, nil
	}
	prefixed[0] = 0x03
	return btcec.ParsePubKey(prefixed)
}

func messageKeys(convKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(convKey) != 32 || len(nonce) != 32 {
		return nil, nil, nil, errors.CryptoError("invalid conversation key or nonce length", nil)
	}
	reader := hkdf.Expand(sha256.New, convKey, nonce)
	keys := make([]byte, 76)
	if _, err := reader.Read(keys); err != nil {
		return nil, nil, nil, errors.CryptoError("hkdf expand failed", err)
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}
	nextPower := 1 << (bits.Len(uint(unpaddedLen-1)))
	var chunk int
	if nextPower <= 256 {
		chunk = 32
	} else {
		chunk = nextPower / 8
	}
	return chunk * (int(math.Floor(float64(unpaddedLen-1)/float64(chunk))) + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintextSize || n > maxPlaintextSize {
		return nil, errors.CryptoError("invalid plaintext length", nil)
	}
	padded := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(padded[0:2], uint16(n))
	copy(padded[2:], plaintext)
	return padded, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errors.CryptoError("padded payload too short", nil)
	}
	n := int(binary.BigEndian.Uint16(padded[0:2]))
	if n == 0 || n > len(padded)-2 {
		return nil, errors.CryptoError("invalid padding length", nil)
	}
	if len(padded) != 2+calcPaddedLen(n) {
		return nil, errors.CryptoError("padding does not match declared length", nil)
	}
	return padded[2 : 2+n], nil
}

func hmacAAD(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}

// Encrypt is the exported form of encrypt, for callers outside this
// package that need raw NIP-44 v2 encryption without the envelope framing
// (internal/wallet's NWC client, speaking NIP-47 over the same primitive).
func Encrypt(privHex, peerPubHex, plaintext string) (string, error) {
	return encrypt(privHex, peerPubHex, plaintext)
}

// Decrypt is the exported form of decrypt; see Encrypt.
func Decrypt(privHex, peerPubHex, payload string) (string, error) {
	return decrypt(privHex, peerPubHex, payload)
}

func encrypt(privHex, peerPubHex, plaintext string) (string, error) {
	convKey, err := conversationKey(privHex, peerPubHex)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.CryptoError("failed to generate nonce", err)
	}

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", errors.CryptoError("failed to initialize cipher", err)
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	mac := hmacAAD(hmacKey, ciphertext, nonce)

	out := make([]byte, 1+32+len(ciphertext)+32)
	out[0] = nip44Version
	copy(out[1:33], nonce)
	copy(out[33:33+len(ciphertext)], ciphertext)
	copy(out[33+len(ciphertext):], mac)

	return base64.StdEncoding.EncodeToString(out), nil
}

func decrypt(privHex, peerPubHex, payload string) (string, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return "", errors.CryptoError("unsupported encryption version marker", nil)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", errors.CryptoError("invalid base64 payload", err)
	}
	if len(data) < 99 || len(data) > 65603 {
		return "", errors.CryptoError("invalid payload size", nil)
	}
	if data[0] != nip44Version {
		return "", errors.CryptoError("unsupported nip44 version", nil)
	}

	nonce := data[1:33]
	ciphertext := data[33 : len(data)-32]
	mac := data[len(data)-32:]

	convKey, err := conversationKey(privHex, peerPubHex)
	if err != nil {
		return "", err
	}

	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	if !hmac.Equal(hmacAAD(hmacKey, ciphertext, nonce), mac) {
		return "", errors.CryptoError("mac verification failed", nil)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", errors.CryptoError("failed to initialize cipher", err)
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
