package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cc4me/cc4me/internal/relayauth"
	"github.com/cc4me/cc4me/pkg/agent/cache"
)

// relayClient is a signed HTTP client for one agent identity against one relay. It implements the three interfaces
// pkg/agent/messaging needs from a relay-backed transport: PresenceChecker, ContactRefresher, and GroupMemberLister.
type relayClient struct {
	baseURL string
	name    string
	priv    ed25519.PrivateKey
	http    *http.Client
}

func newRelayClient(baseURL, name string, priv ed25519.PrivateKey) *relayClient {
	return &relayClient{baseURL: baseURL, name: name, priv: priv, http: &http.Client{Timeout: 10 * time.Second}}
}

type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (rc *relayClient) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyBytes []byte
	var err error
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	signingString := relayauth.CanonicalSigningString(method, path, timestamp, bodyBytes)
	sig := ed25519.Sign(rc.priv, []byte(signingString))
	authHeader := "Signature " + rc.name + ":" + base64.StdEncoding.EncodeToString(sig)

	req, err := http.NewRequestWithContext(ctx, method, rc.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("X-Timestamp", timestamp)

	resp, err := rc.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read relay response: %w", err)
	}

	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode relay response: %w", err)
		}
	}
	if env.Error != nil {
		return fmt.Errorf("relay error %s: %s", env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode relay data: %w", err)
		}
	}
	return nil
}

type contactListEntry struct {
	Agent     string     `json:"Agent"`
	PublicKey string     `json:"PublicKey"`
	Endpoint  *string    `json:"Endpoint"`
	Online    bool       `json:"Online"`
	LastSeen  *time.Time `json:"LastSeen"`
}

// CheckPresence looks the contact up in the caller's own contact list and reports whether the relay currently
// considers them online, along with their advertised delivery endpoint.
func (rc *relayClient) CheckPresence(ctx context.Context, name string) (bool, string, error) {
	var entries []contactListEntry
	if err := rc.do(ctx, http.MethodGet, "/contacts", nil, &entries); err != nil {
		return false, "", err
	}
	for _, e := range entries {
		if e.Agent == name {
			endpoint := ""
			if e.Endpoint != nil {
				endpoint = *e.Endpoint
			}
			return e.Online, endpoint, nil
		}
	}
	return false, "", nil
}

// RefreshContact re-fetches a contact's current public key and endpoint from the relay's contact list.
func (rc *relayClient) RefreshContact(ctx context.Context, name string) (cache.Contact, bool, error) {
	var entries []contactListEntry
	if err := rc.do(ctx, http.MethodGet, "/contacts", nil, &entries); err != nil {
		return cache.Contact{}, false, err
	}
	for _, e := range entries {
		if e.Agent == name {
			endpoint := ""
			if e.Endpoint != nil {
				endpoint = *e.Endpoint
			}
			return cache.Contact{
				Username:  e.Agent,
				PublicKey: e.PublicKey,
				Endpoint:  endpoint,
				Online:    e.Online,
				LastSeen:  e.LastSeen,
			}, true, nil
		}
	}
	return cache.Contact{}, false, nil
}

type membershipEntry struct {
	Agent  string `json:"Agent"`
	Status string `json:"Status"`
}

// ListActiveMembers fetches the current active membership list for a group.
func (rc *relayClient) ListActiveMembers(ctx context.Context, groupID string) ([]string, error) {
	var members []membershipEntry
	if err := rc.do(ctx, http.MethodGet, "/groups/"+groupID+"/members", nil, &members); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Status == "active" {
			names = append(names, m.Agent)
		}
	}
	return names, nil
}

// sendHeartbeat PUTs this agent's current endpoint to the relay so contacts see it as online.
func (rc *relayClient) sendHeartbeat(ctx context.Context, endpoint string) error {
	var body any
	if endpoint != "" {
		body = struct {
			Endpoint *string `json:"endpoint,omitempty"`
		}{Endpoint: &endpoint}
	}
	return rc.do(ctx, http.MethodPut, "/presence", body, nil)
}
