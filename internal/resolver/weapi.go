package resolver

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/url"
)

// NetEase web API request encryption. The payload is AES-CBC encrypted twice
// (static key, then a session key) and the session key travels RSA-encrypted
// alongside it. The service accepts any session key, so a fixed one keeps the
// exchange deterministic.
const (
	weapiStaticKey  = "0CoJUm6Qyw8W8jud"
	weapiSessionKey = "F3nws0dj1G5HfLKx"
	weapiIV         = "0102030405060708"

	weapiRSAExponent = "010001"
	weapiRSAModulus  = "00e0b509f6259df8642dbc35662901477df22677ec152b5ff68ace615bb7b725152b3ab17a876aea8a5aa76d2e417629ec4ee341f56135fccf695280104e0312ecbda92557c93870114af6c9d05c4f7f0c3685b7a46bee255932575cce10b424d813cfe4875d3e82047b97ddef52741d546b8e289dc6935b3ece0462db0a22b8e7"
)

// weapiEncrypt wraps a JSON payload into the params/encSecKey form the
// weapi endpoints expect.
func weapiEncrypt(payload []byte) (url.Values, error) {
	first, err := aesCBCEncrypt(payload, []byte(weapiStaticKey))
	if err != nil {
		return nil, fmt.Errorf("weapi first pass: %w", err)
	}
	second, err := aesCBCEncrypt([]byte(first), []byte(weapiSessionKey))
	if err != nil {
		return nil, fmt.Errorf("weapi second pass: %w", err)
	}

	form := url.Values{}
	form.Set("params", second)
	form.Set("encSecKey", rsaEncryptSessionKey(weapiSessionKey))
	return form, nil
}

// aesCBCEncrypt encrypts with PKCS#7 padding and returns base64.
func aesCBCEncrypt(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(weapiIV)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// rsaEncryptSessionKey performs the textbook RSA step of the weapi scheme:
// the reversed key bytes are treated as a big integer and raised to the
// public exponent modulo n. No padding; the result is zero-filled to 256 hex
// digits.
func rsaEncryptSessionKey(key string) string {
	reversed := make([]byte, len(key))
	for i := range reversed {
		reversed[i] = key[len(key)-1-i]
	}

	m := new(big.Int).SetBytes(reversed)
	e, _ := new(big.Int).SetString(weapiRSAExponent, 16)
	n, _ := new(big.Int).SetString(weapiRSAModulus, 16)
	c := new(big.Int).Exp(m, e, n)

	out := c.Text(16)
	for len(out) < 256 {
		out = "0" + out
	}
	return out
}
