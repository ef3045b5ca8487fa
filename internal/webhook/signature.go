package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Sign returns the "sha256=<hex>" HMAC of payload
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret string, payload []byte, signature string) bool {
	expectedSignature := Sign(secret, payload)
	return hmac.Equal([]byte(signature), []byte(expectedSignature))
}

// SignTimestamped returns a "t=<unix>,v1=<hex>" header whose HMAC covers "<unix>.<payload>"
func SignTimestamped(secret string, ts time.Time, payload []byte) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + unix + ",v1=" + timestampedMAC(secret, unix, payload)
}

// VerifyTimestamped checks a SignTimestamped header. Any v1 entry may match,
// which lets providers roll secrets.
func VerifyTimestamped(secret string, payload []byte, header string) bool {
	unix, sigs := parseTimestampedHeader(header)
	if unix == "" || len(sigs) == 0 {
		return false
	}

	expected := []byte(timestampedMAC(secret, unix, payload))
	for _, sig := range sigs {
		if hmac.Equal([]byte(sig), expected) {
			return true
		}
	}
	return false
}

// TimestampFromSignature extracts the t= value of a timestamped header
func TimestampFromSignature(header string) (time.Time, bool) {
	unix, _ := parseTimestampedHeader(header)
	if unix == "" {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

func timestampedMAC(secret, unix string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseTimestampedHeader(header string) (unix string, sigs []string) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			unix = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	return unix, sigs
}

// PayloadHash is the lowercase hex SHA-256 of the raw body
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
