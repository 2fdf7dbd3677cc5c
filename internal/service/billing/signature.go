package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("no matching v1 signature")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

// Sign returns the v1 signature of payload at timestamp t.
func Sign(secret string, t time.Time, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(t.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders a Stripe-Signature value for payload.
func SignatureHeader(secret string, t time.Time, payload []byte) string {
	return "t=" + strconv.FormatInt(t.Unix(), 10) + ",v1=" + Sign(secret, t, payload)
}

// VerifySignature checks a "t=<unix>,v1=<hex>[,v1=...]" header against
// payload. Any v1 entry may match. A zero tolerance skips the age check.
func VerifySignature(header string, payload []byte, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrMissingSignature
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrMissingSignature
	}

	signedAt := time.Unix(ts, 0)
	if tolerance > 0 {
		if d := now.Sub(signedAt); d > tolerance || d < -tolerance {
			return ErrStaleSignature
		}
	}

	want, _ := hex.DecodeString(Sign(secret, signedAt, payload))
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrBadSignature
}
