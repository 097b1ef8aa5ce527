package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" || req.Prompt != "heap overflow" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.5, -1}})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "nomic-embed-text")
	v, err := c.Embed(context.Background(), "heap overflow")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != 2 || v[0] != 0.5 || v[1] != -1 {
		t.Fatalf("unexpected vector %v", v)
	}
}

func TestEmbed_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewEmbedClient(srv.URL, "m").Embed(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	if _, err := NewEmbedClient(srv.URL, "m").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestEmbedBatch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"embedding":[1]}`))
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "m")
	if _, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"}); err == nil || !strings.Contains(err.Error(), "[1]") {
		t.Fatalf("expected failure on item 1, got %v", err)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		if raw["stream"] != false {
			t.Errorf("expected stream=false")
		}
		opts := raw["options"].(map[string]any)
		if opts["num_predict"] != float64(128) {
			t.Errorf("num_predict = %v", opts["num_predict"])
		}
		if temp, ok := opts["temperature"]; !ok || temp != float64(0) {
			t.Errorf("temperature must be sent as 0, got %v", temp)
		}
		if opts["seed"] != float64(DeterministicSeed) {
			t.Errorf("seed = %v", opts["seed"])
		}
		json.NewEncoder(w).Encode(map[string]any{"response": `{"attack_scenario":"a","mitigation":"m"}`, "done": true})
	}))
	defer srv.Close()

	c := NewGenerateClient(srv.URL, "llama3.2")
	out, err := c.Generate(context.Background(), "prompt", GenerateOptions{MaxTokens: 128, Deterministic: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "attack_scenario") {
		t.Fatalf("unexpected response %q", out)
	}
}

func TestGenerate_NonDeterministicOmitsSampling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		opts := raw["options"].(map[string]any)
		if _, ok := opts["temperature"]; ok {
			t.Errorf("temperature should be omitted")
		}
		w.Write([]byte(`{"response":"ok","done":true}`))
	}))
	defer srv.Close()

	if _, err := NewGenerateClient(srv.URL, "m").Generate(context.Background(), "p", GenerateOptions{}); err != nil {
		t.Fatal(err)
	}
}

func TestGenerate_ModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	_, err := NewGenerateClient(srv.URL, "missing").Generate(context.Background(), "p", GenerateOptions{})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected model error, got %v", err)
	}
}

func TestGenerate_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewGenerateClient(srv.URL, "m").Generate(ctx, "p", GenerateOptions{}); err == nil {
		t.Fatal("expected deadline error")
	}
}

func TestDefaultURL(t *testing.T) {
	if NewEmbedClient("", "m").baseURL != DefaultURL || NewGenerateClient("", "m").baseURL != DefaultURL {
		t.Fatal("expected default base URL")
	}
}
