package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VaultBackend speaks the HashiCorp Vault KV-v2 HTTP API, standing in
// for the remote secret store named in spec.md §4.A (the original
// implementation's wallet/key_storage/vault.rs). It is the one backend
// marked Remote, so store-level cache fallback applies to it.
type VaultBackend struct {
	addr   string
	mount  string // KV-v2 mount path, e.g. "secret"
	prefix string // path prefix under the mount, e.g. "chainkeeper"
	token  string
	client *http.Client
}

// NewVaultBackend constructs a Vault backend against addr (e.g.
// "https://vault.internal:8200"), storing secrets under
// mount/data/prefix/<network>.
func NewVaultBackend(addr, mount, prefix, token string) *VaultBackend {
	return &VaultBackend{
		addr:   addr,
		mount:  mount,
		prefix: prefix,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *VaultBackend) Name() string { return "vault" }
func (b *VaultBackend) Remote() bool { return true }

func (b *VaultBackend) dataURL(network string) string {
	return fmt.Sprintf("%s/v1/%s/data/%s/%s", b.addr, b.mount, b.prefix, network)
}

func (b *VaultBackend) metadataURL() string {
	return fmt.Sprintf("%s/v1/%s/metadata/%s", b.addr, b.mount, b.prefix)
}

type vaultKVData struct {
	Data map[string]interface{} `json:"data"`
}

type vaultReadResponse struct {
	Data vaultKVData `json:"data"`
}

type vaultListResponse struct {
	Data struct {
		Keys []string `json:"keys"`
	} `json:"data"`
}

func (b *VaultBackend) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", b.token)
	req.Header.Set("Content-Type", "application/json")
	return b.client.Do(req)
}

func (b *VaultBackend) Get(ctx context.Context, network string) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, b.dataURL(network), nil)
	if err != nil {
		return nil, fmt.Errorf("vault get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault get: unexpected status %d", resp.StatusCode)
	}

	var out vaultReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("vault get: decode: %w", err)
	}
	raw, ok := out.Data.Data["private_key"].(string)
	if !ok {
		return nil, fmt.Errorf("vault get: missing private_key field")
	}
	return []byte(raw), nil
}

func (b *VaultBackend) Put(ctx context.Context, network string, raw []byte) error {
	payload := vaultKVData{Data: map[string]interface{}{"private_key": string(raw)}}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := b.do(ctx, http.MethodPost, b.dataURL(network), bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("vault put: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("vault put: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (b *VaultBackend) Remove(ctx context.Context, network string) error {
	resp, err := b.do(ctx, http.MethodDelete, b.metadataURL()+"/"+network, nil)
	if err != nil {
		return fmt.Errorf("vault remove: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vault remove: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (b *VaultBackend) List(ctx context.Context) ([]string, error) {
	url := b.metadataURL() + "?list=true"
	resp, err := b.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("vault list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault list: unexpected status %d", resp.StatusCode)
	}
	var out vaultListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("vault list: decode: %w", err)
	}
	return out.Data.Keys, nil
}
