package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
)

const (
	// KeySize 为会话密钥长度（AES-256）。
	KeySize = 32
	// IVSize 为客户端提供的 IV 长度，即 GCM nonce 长度。
	IVSize = 12
	// TokenSize 为会话期望令牌的长度。
	TokenSize = 32
)

var (
	// ErrInvalidKeySize 表示会话密钥长度不是 32 字节。
	ErrInvalidKeySize = errors.New("crypto: session key must be 32 bytes")

	// ErrInvalidIVSize 表示客户端提供的 IV 长度错误。
	ErrInvalidIVSize = errors.New("crypto: iv must be 12 bytes")
)

// TokenCipher 使用会话密钥加解密会话令牌：
//   - 对称加密：AES-256-GCM
//   - nonce：客户端在凭据中提供的 IV
//   - aad：会话 ID（大端序 8 字节），令牌只能在签发它的会话中使用
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher 以 32 字节会话密钥创建 TokenCipher。
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{aead: aead}, nil
}

// Seal 加密令牌，客户端侧使用。
func (c *TokenCipher) Seal(iv, token []byte, sessionID uint64) ([]byte, error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, ErrInvalidIVSize
	}
	return c.aead.Seal(nil, iv, token, sessionAAD(sessionID)), nil
}

// Open 解密令牌。密文被篡改、IV 错误或会话 ID 不一致时返回错误。
func (c *TokenCipher) Open(iv, sealed []byte, sessionID uint64) ([]byte, error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, ErrInvalidIVSize
	}
	return c.aead.Open(nil, iv, sealed, sessionAAD(sessionID))
}

func sessionAAD(sessionID uint64) []byte {
	var aad [8]byte
	binary.BigEndian.PutUint64(aad[:], sessionID)
	return aad[:]
}

// RandomBytes 返回 n 字节的密码学安全随机数。
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
