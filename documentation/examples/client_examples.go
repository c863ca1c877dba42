//go:build example

// Package main shows how to authenticate and trace calls made with the
// client.
//
// This example shows how to:
// 1. Send a static API key with every request
// 2. Refresh a bearer token in a BeforeRequest hook
// 3. Add per-call headers through the context
// 4. Share a persistent metadata cache between clients
//
// Note: This is a standalone example file. Build it with -tags example.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	odata "github.com/nlstn/go-odataclient"
)

// Example 1: Static API Key
// =========================

func apiKeyClient(baseURL, key string) (*odata.Client, error) {
	h := http.Header{}
	h.Set("X-API-Key", key)
	return odata.NewClient(odata.Config{BaseURL: baseURL, Headers: h})
}

// Example 2: Bearer Token Refresh
// ===============================

// tokenSource hands out a token and renews it shortly before it expires.
type tokenSource struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	fetch   func() (string, time.Duration, error)
}

func (s *tokenSource) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Until(s.expires) > 30*time.Second {
		return s.token
	}
	token, ttl, err := s.fetch()
	if err != nil {
		slog.Error("Failed to refresh token", "error", err)
		return s.token
	}
	s.token, s.expires = token, time.Now().Add(ttl)
	return s.token
}

func bearerClient(baseURL string, tokens *tokenSource) (*odata.Client, error) {
	return odata.NewClient(odata.Config{
		BaseURL: baseURL,
		BeforeRequest: func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+tokens.Token())
		},
		AfterResponse: func(resp *http.Response) {
			if resp.StatusCode == http.StatusUnauthorized {
				slog.Warn("Request was not authorized", "url", resp.Request.URL.String())
			}
		},
	})
}

// Example 3: Per-Call Headers
// ===========================

func findForTenant(ctx context.Context, c *odata.Client, tenant string) ([]map[string]any, error) {
	h := http.Header{}
	h.Set("X-Tenant", tenant)
	ctx = odata.WithRequestHeaders(ctx, h)
	return c.FindEntries(ctx, odata.For("Products").Filter(odata.Eq(odata.Prop("Discontinued"), odata.Lit(false))))
}

// Example 4: Persistent Metadata Cache
// ====================================

func cachedClients(baseURL string) (*odata.Client, *odata.Client, error) {
	store, err := odata.OpenMetadataStore("sqlite", "metadata.db")
	if err != nil {
		return nil, nil, err
	}
	cache := odata.NewMetadataCache(store)
	a, err := odata.NewClient(odata.Config{BaseURL: baseURL, MetadataCache: cache})
	if err != nil {
		return nil, nil, err
	}
	b, err := odata.NewClient(odata.Config{BaseURL: baseURL, MetadataCache: cache})
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func main() {
	baseURL := "https://services.odata.org/V4/Northwind/Northwind.svc"
	ctx := context.Background()

	c, err := apiKeyClient(baseURL, os.Getenv("ODATA_API_KEY"))
	if err != nil {
		slog.Error("Failed to create client", "error", err)
		os.Exit(1)
	}
	entries, err := findForTenant(ctx, c, "contoso")
	if err != nil {
		slog.Error("Query failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Found products", "count", len(entries))

	tokens := &tokenSource{fetch: func() (string, time.Duration, error) {
		return os.Getenv("ODATA_TOKEN"), time.Hour, nil
	}}
	if _, err := bearerClient(baseURL, tokens); err != nil {
		slog.Error("Failed to create client", "error", err)
		os.Exit(1)
	}

	if _, _, err := cachedClients(baseURL); err != nil {
		slog.Error("Failed to open metadata cache", "error", err)
		os.Exit(1)
	}
}
