// Package auth resolves collector API keys to projects and issues
// short-lived ingest tokens.
//
// API keys are stored as Argon2id hashes. Ingest tokens are Ed25519-signed
// JWTs; keys can be loaded from PEM files or auto-generated for development.
package auth

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Resolver maps a collector API key to a project ID.
type Resolver interface {
	// Resolve returns the project the key belongs to, or ok=false when the
	// key is unknown. Implementations must take constant time on misses.
	Resolve(ctx context.Context, apiKey string) (projectID string, ok bool, err error)
}

// StaticResolver resolves API keys from an in-memory table of Argon2id
// hashes, typically loaded from environment configuration at startup.
type StaticResolver struct {
	// hash -> project ID
	keys map[string]string
}

// NewStaticResolver builds a resolver from plaintext key -> project pairs,
// hashing each key on the way in.
func NewStaticResolver(keys map[string]string) (*StaticResolver, error) {
	hashed := make(map[string]string, len(keys))
	for key, projectID := range keys {
		if key == "" || projectID == "" {
			return nil, fmt.Errorf("auth: empty api key or project id")
		}
		h, err := HashAPIKey(key)
		if err != nil {
			return nil, err
		}
		hashed[h] = projectID
	}
	return &StaticResolver{keys: hashed}, nil
}

// Resolve checks the key against every stored hash. The table is small
// (one entry per project), so the scan cost is dominated by Argon2id.
func (r *StaticResolver) Resolve(_ context.Context, apiKey string) (string, bool, error) {
	for hash, projectID := range r.keys {
		ok, err := VerifyAPIKey(apiKey, hash)
		if err != nil {
			return "", false, err
		}
		if ok {
			return projectID, true, nil
		}
	}
	DummyVerify()
	return "", false, nil
}

// Claims extends jwt.RegisteredClaims with the project the token grants
// collector access to.
type Claims struct {
	jwt.RegisteredClaims
	ProjectID string `json:"project_id"`
}

// MaxIngestTokenTTL is the maximum lifetime of an ingest token.
const MaxIngestTokenTTL = time.Hour

// JWTManager issues and validates ingest tokens using Ed25519.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiration time.Duration
}

// NewJWTManager creates a JWTManager from PEM key files.
// If paths are empty, generates an ephemeral key pair (for development).
func NewJWTManager(privateKeyPath, publicKeyPath string, expiration time.Duration) (*JWTManager, error) {
	if expiration <= 0 || expiration > MaxIngestTokenTTL {
		expiration = MaxIngestTokenTTL
	}

	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
		return &JWTManager{privateKey: priv, publicKey: pub, expiration: expiration}, nil
	}

	privPEM, err := os.ReadFile(privateKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read private key: %w", err)
	}
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, fmt.Errorf("auth: decode private key PEM")
	}
	privKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	edPriv, ok := privKey.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}

	pubPEM, err := os.ReadFile(publicKeyPath) //nolint:gosec // paths come from validated config, not user input
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}
	pubBlock, _ := pem.Decode(pubPEM)
	if pubBlock == nil {
		return nil, fmt.Errorf("auth: decode public key PEM")
	}
	pubKey, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	edPub, ok := pubKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}

	// Verify the public key matches the private key to catch misconfiguration
	// (e.g., deploying a private key from one environment with a public key
	// from another).
	derivedPub := edPriv.Public().(ed25519.PublicKey)
	if !bytes.Equal(derivedPub, edPub) {
		return nil, fmt.Errorf("auth: public key does not match private key")
	}

	return &JWTManager{privateKey: edPriv, publicKey: edPub, expiration: expiration}, nil
}

// IssueIngestToken creates a signed JWT granting collector access to a project.
func (m *JWTManager) IssueIngestToken(projectID string) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   projectID,
			Issuer:    "canopy",
			Audience:  jwt.ClaimStrings{"canopy"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		ProjectID: projectID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates an ingest token, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience("canopy"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.Issuer != "canopy" {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}

	if claims.ProjectID == "" {
		return nil, fmt.Errorf("auth: token missing project_id")
	}

	return claims, nil
}
