package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSignatureMissing = errors.New("webhook signature missing")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// VerifySignature checks the x-signature header ("ts=<ts>,v1=<hex>") against
// an HMAC-SHA256 of "id:<dataID>;request-id:<requestID>;ts:<ts>;". Empty
// components are left out of the manifest.
func VerifySignature(secret, header, requestID, dataID string) error {
	if strings.TrimSpace(header) == "" {
		return ErrSignatureMissing
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return ErrSignatureMissing
	}

	expected := signManifest(secret, buildManifest(dataID, requestID, ts))
	given, err := hex.DecodeString(v1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !hmac.Equal(expected, given) {
		return ErrSignatureInvalid
	}
	return nil
}

func buildManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		// alphanumeric ids are signed lowercased
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func signManifest(secret, manifest string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return mac.Sum(nil)
}
