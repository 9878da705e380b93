package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize 密钥长度
const KeySize = chacha20poly1305.KeySize

var (
	// ErrInvalidKey 密钥格式错误
	ErrInvalidKey = errors.New("secret: invalid key")
	// ErrInvalidCiphertext 密文格式错误
	ErrInvalidCiphertext = errors.New("secret: invalid ciphertext")
	// ErrAuthenticationFailed 密文校验失败
	ErrAuthenticationFailed = errors.New("secret: authentication failed")
)

// Cipher 卡密加解密与哈希能力
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Hash(value string) string
}

// Box 基于 XChaCha20-Poly1305 与 keyed BLAKE2b 的实现
type Box struct {
	encKey  []byte
	hashKey []byte
}

// New 创建加密器，hashKey 为空时从加密密钥派生
func New(encKey, hashKey []byte) (*Box, error) {
	if len(encKey) != KeySize {
		return nil, ErrInvalidKey
	}
	key := make([]byte, KeySize)
	copy(key, encKey)

	if len(hashKey) == 0 {
		derived := blake2b.Sum256(append([]byte("keyrelay:hash:"), key...))
		hashKey = derived[:]
	}
	if len(hashKey) > blake2b.Size {
		return nil, ErrInvalidKey
	}
	hk := make([]byte, len(hashKey))
	copy(hk, hashKey)

	return &Box{encKey: key, hashKey: hk}, nil
}

// NewFromConfig 从配置字符串创建加密器（hex 或 base64）
func NewFromConfig(encKey, hashKey string) (*Box, error) {
	enc, err := ParseKey(encKey)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}
	var hk []byte
	if strings.TrimSpace(hashKey) != "" {
		hk, err = ParseKey(hashKey)
		if err != nil {
			return nil, fmt.Errorf("parse hash key: %w", err)
		}
	}
	return New(enc, hk)
}

// ParseKey 解析 hex / base64 编码的 32 字节密钥
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidKey
	}
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}
	return nil, ErrInvalidKey
}

// GenerateKey 生成随机密钥
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Encrypt 加密并以 base64 输出（nonce + ciphertext + tag）
func (b *Box) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.encKey)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出
func (b *Box) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	aead, err := chacha20poly1305.NewX(b.encKey)
	if err != nil {
		return "", fmt.Errorf("create aead: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plain), nil
}

// Hash 计算定长可比较摘要，用于唯一索引
func (b *Box) Hash(value string) string {
	h, _ := blake2b.New256(b.hashKey)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
