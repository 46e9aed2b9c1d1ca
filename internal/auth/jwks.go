package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const jwksRefreshInterval = 24 * time.Hour

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// keySet fetches a JWKS document and caches the converted RSA keys by kid.
type keySet struct {
	url        string
	httpClient *http.Client

	mu   sync.RWMutex
	keys map[string]jwk
	rsa  map[string]*rsa.PublicKey
}

func newKeySet(url string, httpClient *http.Client) *keySet {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &keySet{
		url:        url,
		httpClient: httpClient,
		keys:       make(map[string]jwk),
		rsa:        make(map[string]*rsa.PublicKey),
	}
}

func (ks *keySet) refresh(ctx context.Context) error {
	slog.Debug("[AUTH] Fetching JWKS", "url", ks.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build JWKS request: %w", err)
	}

	resp, err := ks.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]jwk, len(set.Keys))
	for _, k := range set.Keys {
		keys[k.Kid] = k
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.rsa = make(map[string]*rsa.PublicKey)
	ks.mu.Unlock()

	slog.Info("[AUTH] JWKS loaded", "keys", len(keys))
	return nil
}

// refreshLoop re-fetches the key set until ctx is done.
func (ks *keySet) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(jwksRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ks.refresh(ctx); err != nil {
				slog.Error("[AUTH] Error refreshing JWKS", "error", err)
			}
		}
	}
}

func (ks *keySet) publicKey(kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	if key, ok := ks.rsa[kid]; ok {
		ks.mu.RUnlock()
		return key, nil
	}
	k, ok := ks.keys[kid]
	ks.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
	}

	key, err := jwkToPublicKey(k)
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	ks.rsa[kid] = key
	ks.mu.Unlock()

	return key, nil
}

func jwkToPublicKey(k jwk) (*rsa.PublicKey, error) {
	if k.Kty != "" && k.Kty != "RSA" {
		return nil, errors.New("unsupported key type " + k.Kty)
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
