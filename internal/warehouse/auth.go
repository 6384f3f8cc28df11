package warehouse

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flightdeck/skyboard/internal/logger"
)

const (
	// Key-pair JWTs are minted with a 59 minute lifetime and reissued a few
	// minutes early so an in-flight request never carries an expired token.
	jwtLifetime   = 59 * time.Minute
	jwtRefresh    = 54 * time.Minute
	scopedRefresh = 50 * time.Minute
)

// KeyPairAuth mints Snowflake key-pair JWTs and exchanges them for the
// scoped tokens the streaming ingest API requires. Tokens are cached and
// refreshed before expiry. Safe for concurrent use.
type KeyPairAuth struct {
	account string
	user    string
	baseURL string
	key     *rsa.PrivateKey
	client  *http.Client
	now     func() time.Time

	mu           sync.Mutex
	jwtToken     string
	jwtIssued    time.Time
	scopedToken  string
	scopedIssued time.Time
}

// NewKeyPairAuth creates an authenticator for ACCOUNT.USER with the given
// RSA private key.
func NewKeyPairAuth(account, user string, key *rsa.PrivateKey) *KeyPairAuth {
	return &KeyPairAuth{
		account: strings.ToUpper(account),
		user:    strings.ToUpper(user),
		baseURL: fmt.Sprintf("https://%s.snowflakecomputing.com", strings.ToLower(account)),
		key:     key,
		client:  &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// LoadPrivateKey reads an RSA private key from a PEM file (PKCS#8 or PKCS#1).
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("warehouse: read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("warehouse: no PEM block in private key file")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("warehouse: private key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// AccountURL returns the account's base URL.
func (a *KeyPairAuth) AccountURL() string { return a.baseURL }

// SetAccountURL replaces the derived account URL. Private-link deployments
// and tests use it.
func (a *KeyPairAuth) SetAccountURL(u string) { a.baseURL = u }

// Token returns a valid key-pair JWT, minting a fresh one when the cached
// token is close to expiry.
func (a *KeyPairAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.jwtToken != "" && a.now().Sub(a.jwtIssued) < jwtRefresh {
		return a.jwtToken, nil
	}
	token, err := a.mint()
	if err != nil {
		return "", err
	}
	a.jwtToken = token
	a.jwtIssued = a.now()
	logger.L.Debug("key-pair jwt minted", "account", a.account, "user", a.user)
	return token, nil
}

func (a *KeyPairAuth) mint() (string, error) {
	fp, err := publicKeyFingerprint(&a.key.PublicKey)
	if err != nil {
		return "", err
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    fmt.Sprintf("%s.%s.%s", a.account, a.user, fp),
		Subject:   fmt.Sprintf("%s.%s", a.account, a.user),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

// publicKeyFingerprint returns SHA256:<base64> over the DER-encoded public
// key, the fingerprint format Snowflake expects in the JWT issuer.
func publicKeyFingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return "SHA256:" + base64.StdEncoding.EncodeToString(sum[:]), nil
}

// ScopedToken exchanges the key-pair JWT for a scoped token accepted by the
// streaming ingest endpoints. The result is cached and refreshed after 50
// minutes, a little inside its hour of validity.
func (a *KeyPairAuth) ScopedToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.scopedToken != "" && a.now().Sub(a.scopedIssued) < scopedRefresh {
		token := a.scopedToken
		a.mu.Unlock()
		return token, nil
	}
	a.mu.Unlock()

	jwtToken, err := a.Token(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("scope", a.AccountURL())
	form.Set("assertion", jwtToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.AccountURL()+"/oauth/token-request", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("warehouse: scoped token request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("warehouse: scoped token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	token := strings.TrimSpace(string(body))
	a.mu.Lock()
	a.scopedToken = token
	a.scopedIssued = a.now()
	a.mu.Unlock()
	logger.L.Info("scoped token obtained")
	return token, nil
}
