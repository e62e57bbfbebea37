// Package crypto 提供敏感文本字段的加解密。
// 数据以 XChaCha20-Poly1305 加密，输出为 base64(nonce || ciphertext)。
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKey 表示密钥长度不是 32 字节。
var ErrInvalidKey = errors.New("encryption key must be 32 bytes")

// ErrMalformedCiphertext 表示密文格式不正确或被篡改。
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// Cipher 定义了字段加解密的接口，repository 层通过它保护落库的文本。
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

type xchachaCipher struct {
	key []byte
}

// NewCipher 根据原始 32 字节密钥创建 Cipher。
func NewCipher(key []byte) (Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &xchachaCipher{key: k}, nil
}

// NewCipherFromBase64 解析配置中的 base64 密钥并创建 Cipher。
func NewCipherFromBase64(encodedKey string) (Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	return NewCipher(key)
}

// Encrypt 加密明文，每次调用使用新的随机 nonce。
func (c *xchachaCipher) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出。
func (c *xchachaCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformedCiphertext
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	return string(plain), nil
}
