package webhook

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

// Encryption modes for inbound notifications.
const (
	ModeGCM  = "gcm"
	ModeCBC  = "cbc"
	ModeNone = "none"
)

const (
	gcmIVSize  = 12
	gcmTagSize = 16
)

// Header names the gateway sends with encrypted notifications.
const (
	HeaderIV             = "X-Initialization-Vector"
	HeaderAuthTag        = "X-Authentication-Tag"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

var (
	errIVSize      = errors.New("invalid initialization vector length")
	errTagMissing  = errors.New("authentication tag is required")
	errTagSize     = errors.New("invalid authentication tag length")
	errBlockSize   = errors.New("ciphertext is not a whole number of blocks")
	errBadPadding  = errors.New("invalid PKCS#7 padding")
	errUnsupported = errors.New("unsupported encryption mode")
)

// decrypter turns a notification body into plaintext JSON.
type decrypter struct {
	mode string
	key  []byte
}

func newDecrypter(mode, keyHex string) (*decrypter, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeGCM
	}
	switch mode {
	case ModeNone:
		return &decrypter{mode: mode}, nil
	case ModeGCM, ModeCBC:
	default:
		return nil, apperr.New(apperr.CodeConfiguration, "unknown webhook encryption mode",
			apperr.WithData(map[string]any{"mode": mode}))
	}
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil || !validKeySize(len(key)) {
		return nil, apperr.New(apperr.CodeConfiguration, "webhook key must be a 16, 24 or 32 byte hex string",
			apperr.WithCause(err))
	}
	return &decrypter{mode: mode, key: key}, nil
}

func validKeySize(n int) bool {
	return n == 16 || n == 24 || n == 32
}

// decrypt fails closed: any malformed input is WEBHOOK_DECRYPT_FAILED.
func (d *decrypter) decrypt(body []byte, h http.Header) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch d.mode {
	case ModeNone:
		return body, nil
	case ModeGCM:
		out, err = d.openGCM(body, h)
	case ModeCBC:
		out, err = d.openCBC(body, h)
	default:
		err = errUnsupported
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeWebhookDecrypt, "webhook could not be decrypted",
			apperr.WithStatus(http.StatusUnauthorized),
			apperr.WithData(map[string]any{"mode": d.mode}),
			apperr.WithCause(err))
	}
	return out, nil
}

func (d *decrypter) openGCM(body []byte, h http.Header) ([]byte, error) {
	iv, err := hex.DecodeString(strings.TrimSpace(h.Get(HeaderIV)))
	if err != nil {
		return nil, err
	}
	if len(iv) != gcmIVSize {
		return nil, errIVSize
	}
	rawTag := strings.TrimSpace(h.Get(HeaderAuthTag))
	if rawTag == "" {
		return nil, errTagMissing
	}
	tag, err := hex.DecodeString(rawTag)
	if err != nil {
		return nil, err
	}
	if len(tag) != gcmTagSize {
		return nil, errTagSize
	}
	ct, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, append(ct, tag...), nil)
}

func (d *decrypter) openCBC(body []byte, h http.Header) ([]byte, error) {
	iv, err := decodeFlexible(h.Get(HeaderIV))
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errIVSize
	}
	ct, err := decodeFlexible(string(body))
	if err != nil {
		return nil, err
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errBlockSize
	}
	block, err := aes.NewCipher(d.key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return unpad(out)
}

// decodeFlexible accepts hex first, then standard or unpadded base64.
func decodeFlexible(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errBadPadding
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errBadPadding
	}
	return b[:len(b)-n], nil
}

// verifySignature checks the optional hex HMAC-SHA-256 of the plaintext.
// A signature that cannot be checked is rejected.
func verifySignature(secret string, plaintext []byte, h http.Header) error {
	sig := strings.TrimSpace(h.Get(HeaderSignature))
	if sig == "" {
		return nil
	}
	fail := func(reason string) error {
		return apperr.New(apperr.CodeWebhookSignature, "webhook signature is invalid",
			apperr.WithStatus(http.StatusUnauthorized),
			apperr.WithData(map[string]any{"reason": reason}))
	}
	if secret == "" {
		return fail("no signing secret configured")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fail("signature is not hex")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(plaintext)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fail("mismatch")
	}
	return nil
}
