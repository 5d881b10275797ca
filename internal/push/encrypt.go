package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	recordSize = 4096
	saltLength = 16
	// MaxPayload is the largest plaintext that fits in a single record.
	MaxPayload = recordSize - 16 - 1 - 86
)

var (
	webPushInfo  = []byte("WebPush: info\x00")
	cekInfo      = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo    = []byte("Content-Encoding: nonce\x00")
	errKeyLength = errors.New("push: subscription keys have unexpected length")
)

// encrypt produces an aes128gcm body (RFC 8188) keyed per RFC 8291 for the
// subscription's p256dh public key and auth secret.
func encrypt(plaintext []byte, p256dh, auth string, random io.Reader) ([]byte, error) {
	if len(plaintext) > MaxPayload {
		return nil, fmt.Errorf("push: payload of %d bytes exceeds %d", len(plaintext), MaxPayload)
	}
	uaPublic, err := decodeKey(p256dh)
	if err != nil {
		return nil, fmt.Errorf("push: decode p256dh: %w", err)
	}
	authSecret, err := decodeKey(auth)
	if err != nil {
		return nil, fmt.Errorf("push: decode auth: %w", err)
	}
	if len(uaPublic) != 65 || len(authSecret) != 16 {
		return nil, errKeyLength
	}

	curve := ecdh.P256()
	uaKey, err := curve.NewPublicKey(uaPublic)
	if err != nil {
		return nil, fmt.Errorf("push: parse p256dh: %w", err)
	}
	asKey, err := curve.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("push: generate ephemeral key: %w", err)
	}
	asPublic := asKey.PublicKey().Bytes()
	shared, err := asKey.ECDH(uaKey)
	if err != nil {
		return nil, fmt.Errorf("push: ecdh: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, fmt.Errorf("push: generate salt: %w", err)
	}

	keyInfo := make([]byte, 0, len(webPushInfo)+len(uaPublic)+len(asPublic))
	keyInfo = append(keyInfo, webPushInfo...)
	keyInfo = append(keyInfo, uaPublic...)
	keyInfo = append(keyInfo, asPublic...)
	ikm, err := derive(shared, authSecret, keyInfo, 32)
	if err != nil {
		return nil, err
	}
	cek, err := derive(ikm, salt, cekInfo, 16)
	if err != nil {
		return nil, err
	}
	nonce, err := derive(ikm, salt, nonceInfo, 12)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("push: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("push: gcm: %w", err)
	}

	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, 0x02)

	body := make([]byte, 0, saltLength+4+1+len(asPublic)+len(record)+gcm.Overhead())
	body = append(body, salt...)
	body = binary.BigEndian.AppendUint32(body, recordSize)
	body = append(body, byte(len(asPublic)))
	body = append(body, asPublic...)
	body = gcm.Seal(body, nonce, record, nil)
	return body, nil
}

func derive(secret, salt, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("push: hkdf: %w", err)
	}
	return out, nil
}

// decodeKey accepts base64url or standard base64, padded or not.
func decodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	for _, encoding := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.StdEncoding} {
		if decoded, err := encoding.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	return nil, errors.New("invalid base64")
}
