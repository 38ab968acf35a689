// Package webhook verifies inbound provider webhook signatures. Each
// supported provider gets one pure verifier function; Verify dispatches on
// the provider tag. All comparisons are constant-time, and any malformed
// input (missing secret, missing header, bad encoding) verifies false.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

// Header names by provider.
const (
	HeaderGorgias    = "X-Gorgias-Signature"
	HeaderZendesk    = "X-Zendesk-Webhook-Signature"
	HeaderSalesforce = "X-Salesforce-Signature"
	HeaderHelpshift  = "X-Helpshift-Signature"
	HeaderIntercom   = "X-Hub-Signature"
	HeaderFreshdesk  = "X-Freshdesk-Signature"
)

// SignatureHeader returns the signature header name for a provider.
func SignatureHeader(p models.CRMProvider) string {
	switch p {
	case models.ProviderGorgias:
		return HeaderGorgias
	case models.ProviderZendesk:
		return HeaderZendesk
	case models.ProviderSalesforce:
		return HeaderSalesforce
	case models.ProviderHelpshift:
		return HeaderHelpshift
	case models.ProviderIntercom:
		return HeaderIntercom
	case models.ProviderFreshdesk:
		return HeaderFreshdesk
	}
	return ""
}

// Verify dispatches to the provider-specific verifier. url is only
// consulted for providers that sign it (Salesforce).
func Verify(p models.CRMProvider, body []byte, signature, secret, url string) bool {
	switch p {
	case models.ProviderGorgias:
		return VerifyGorgias(body, signature, secret)
	case models.ProviderZendesk:
		return VerifyZendesk(body, signature, secret)
	case models.ProviderSalesforce:
		return VerifySalesforce(body, signature, secret, url)
	case models.ProviderHelpshift:
		return VerifyHelpshift(body, signature, secret)
	case models.ProviderIntercom:
		return VerifyIntercom(body, signature, secret)
	case models.ProviderFreshdesk:
		return VerifyFreshdesk(body, signature, secret)
	}
	return false
}

// VerifyGorgias checks an HMAC-SHA256 hex signature over the body.
func VerifyGorgias(body []byte, signature, secret string) bool {
	return verifyHex(body, signature, secret)
}

// VerifyZendesk checks an HMAC-SHA256 base64 signature over the body.
func VerifyZendesk(body []byte, signature, secret string) bool {
	return verifyBase64(body, signature, secret)
}

// VerifySalesforce checks an HMAC-SHA256 base64 signature over url ∥ body.
func VerifySalesforce(body []byte, signature, secret, url string) bool {
	signed := make([]byte, 0, len(url)+len(body))
	signed = append(signed, url...)
	signed = append(signed, body...)
	return verifyBase64(signed, signature, secret)
}

// VerifyHelpshift checks an HMAC-SHA256 hex signature over the body.
func VerifyHelpshift(body []byte, signature, secret string) bool {
	return verifyHex(body, signature, secret)
}

// VerifyIntercom checks an HMAC-SHA256 hex signature over the body.
// Intercom prefixes the digest with "sha256=".
func VerifyIntercom(body []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	return verifyHex(body, signature, secret)
}

// VerifyFreshdesk checks an HMAC-SHA256 hex signature over the body.
func VerifyFreshdesk(body []byte, signature, secret string) bool {
	return verifyHex(body, signature, secret)
}

func digest(input []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(input)
	return mac.Sum(nil)
}

func verifyHex(input []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(digest(input, secret), want)
}

func verifyBase64(input []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(digest(input, secret), want)
}
