package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyMercadoPagoWebhookSignature checks an x-signature header of the form
// "ts=<unix>,v1=<hex hmac>" against the manifest MercadoPago signs:
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;". Parts whose value is
// missing are left out of the manifest.
func VerifyMercadoPagoWebhookSignature(signatureHeader, requestID, dataID, webhookSecret string) bool {
	secret := strings.TrimSpace(webhookSecret)
	if secret == "" {
		return false
	}

	ts, v1 := parseSignatureHeader(signatureHeader)
	if ts == "" || v1 == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureManifest(dataID, requestID, ts)))
	return hmac.Equal(mac.Sum(nil), expected)
}

func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if id := strings.TrimSpace(dataID); id != "" {
		// MercadoPago signs alphanumeric ids lowercased.
		b.WriteString("id:" + strings.ToLower(id) + ";")
	}
	if rid := strings.TrimSpace(requestID); rid != "" {
		b.WriteString("request-id:" + rid + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			ts = strings.TrimSpace(v)
		case "v1":
			v1 = strings.TrimSpace(v)
		}
	}
	return ts, v1
}
