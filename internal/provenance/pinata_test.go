package provenance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "VaultPilot/internal/errors"
)

func TestPublishSuccess(t *testing.T) {
	var captured map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-credential" {
			t.Errorf("unexpected authorization header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": "bafybeigexample"})
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:    server.URL,
		Credential:  "test-credential",
		GatewayHost: "gateway.example.com",
		MirrorHost:  "mirror.example.com",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.Publish(context.Background(), json.RawMessage(`{"assetAllocation":{"lendingProtocol":70}}`))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if result.CID != "bafybeigexample" {
		t.Fatalf("unexpected cid %s", result.CID)
	}
	if result.RetrievalURL != "https://gateway.example.com/ipfs/bafybeigexample" {
		t.Fatalf("unexpected retrieval url %s", result.RetrievalURL)
	}
	if result.MirrorURL != "https://mirror.example.com/ipfs/bafybeigexample" {
		t.Fatalf("unexpected mirror url %s", result.MirrorURL)
	}

	var meta struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(captured["pinataMetadata"], &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.Name != "vaultpilot-yield-strategy" {
		t.Fatalf("unexpected metadata name %s", meta.Name)
	}
	var opts struct {
		CIDVersion int `json:"cidVersion"`
	}
	if err := json.Unmarshal(captured["pinataOptions"], &opts); err != nil {
		t.Fatalf("unmarshal options: %v", err)
	}
	if opts.CIDVersion != 1 {
		t.Fatalf("expected cidVersion 1, got %d", opts.CIDVersion)
	}
}

func TestPublishUpstreamErrorSurfacesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Endpoint: server.URL, Credential: "bad"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Publish(context.Background(), json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected publish failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodePublishFailure {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestNewClientRequiresCredential(t *testing.T) {
	_, err := NewClient(Config{})
	if err == nil {
		t.Fatal("expected credential failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfigurationFailure {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
}

func TestPublishRejectsEmptyDocument(t *testing.T) {
	client, err := NewClient(Config{Credential: "ok"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected rejection of empty document")
	}
}
