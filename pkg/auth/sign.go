package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// ChallengeTranscript builds the canonical bytes signed in response to a
// registration challenge. Format:
//
//	sybl:challenge|v=1|email=<email>|model=<model>|challenge=<b64url>
func ChallengeTranscript(email, modelName string, challenge []byte) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(48 + len(email) + len(modelName))
	sb.WriteString("sybl:challenge|v=1|email=")
	sb.WriteString(email)
	sb.WriteString("|model=")
	sb.WriteString(modelName)
	sb.WriteString("|challenge=")
	sb.WriteString(b64.EncodeToString(challenge))
	return []byte(sb.String())
}

// SignChallenge signs a challenge transcript with the account's private key.
func SignChallenge(priv ed25519.PrivateKey, email, modelName string, challenge []byte) []byte {
	return ed25519.Sign(priv, ChallengeTranscript(email, modelName, challenge))
}

// VerifyChallenge checks a challenge signature; used by coordinator stubs in
// tests.
func VerifyChallenge(pub ed25519.PublicKey, email, modelName string, challenge, sig []byte) bool {
	return ed25519.Verify(pub, ChallengeTranscript(email, modelName, challenge), sig)
}

// LoadPrivateKey reads a base64 ed25519 private key, preferring the
// PRIVATE_KEY environment variable over the given file path.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	raw := os.Getenv("PRIVATE_KEY")
	if raw == "" && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("auth: read private key: %w", err)
		}
		raw = strings.TrimSpace(string(b))
	}
	if raw == "" {
		return nil, fmt.Errorf("auth: no private key in PRIVATE_KEY or key file")
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("auth: private key has %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}
