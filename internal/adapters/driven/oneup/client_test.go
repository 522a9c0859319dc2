package oneup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/custodia-labs/fhir-bridge/internal/core/domain"
)

func newAggregator(t *testing.T, mux *http.ServeMux) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:      srv.URL + "/",
		ClientID:     "cid",
		ClientSecret: "csecret",
		HTTPClient:   srv.Client(),
	}), srv
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeUserRequest(t *testing.T, r *http.Request) userRequest {
	t.Helper()
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decode request: %v", err)
	}
	if req.ClientID != "cid" || req.ClientSecret != "csecret" {
		t.Errorf("unexpected client credentials %+v", req)
	}
	return req
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("expected default base url, got %s", c.BaseURL())
	}
	if c.httpClient != http.DefaultClient {
		t.Error("expected default http client")
	}
	if c.limiter != nil {
		t.Error("limiter should be off by default")
	}

	limited := NewClient(Config{RequestsPerSecond: 5})
	if limited.limiter == nil || limited.limiter.Burst() != 1 {
		t.Error("expected limiter with burst 1")
	}
}

func TestCreateUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /user-management/v1/user", func(w http.ResponseWriter, r *http.Request) {
		req := decodeUserRequest(t, r)
		if req.AppUserID != "owner-1" {
			t.Errorf("unexpected app user id %q", req.AppUserID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "code": "code-1", "oneup_user_id": 42})
	})
	c, _ := newAggregator(t, mux)

	res, err := c.CreateUser(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Code != "code-1" || res.OneUpID != 42 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCreateUser_Existing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /user-management/v1/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "this user already exists"})
	})
	c, _ := newAggregator(t, mux)

	res, err := c.CreateUser(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Error("expected success=false for an existing user")
	}
}

func TestRequestAuthCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /user-management/v1/user/auth-code", func(w http.ResponseWriter, r *http.Request) {
		decodeUserRequest(t, r)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "code": "code-2"})
	})
	c, _ := newAggregator(t, mux)

	code, err := c.RequestAuthCode(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "code-2" {
		t.Errorf("expected code-2, got %q", code)
	}
}

func TestRequestAuthCode_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /user-management/v1/user/auth-code", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "no such user"})
	})
	c, _ := newAggregator(t, mux)

	if _, err := c.RequestAuthCode(context.Background(), "owner-1"); err == nil {
		t.Fatal("expected error when aggregator reports failure")
	}

	mux2 := http.NewServeMux()
	mux2.HandleFunc("POST /user-management/v1/user/auth-code", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad client", http.StatusUnauthorized)
	})
	c2, _ := newAggregator(t, mux2)

	_, err := c2.RequestAuthCode(context.Background(), "owner-1")
	if domain.StatusCodeOf(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func tokenHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("client_id") != "cid" || r.PostForm.Get("client_secret") != "csecret" {
			t.Errorf("expected client credentials in params, got %v", r.PostForm)
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "at-1", "refresh_token": "rt-1", "token_type": "bearer", "expires_in": 7200,
			})
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "rt-1" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "at-2", "refresh_token": "rt-2", "token_type": "bearer", "expires_in": 7200,
			})
		default:
			t.Errorf("unexpected grant type %q", r.PostForm.Get("grant_type"))
		}
	}
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fhir/oauth2/token", tokenHandler(t))
	c, _ := newAggregator(t, mux)

	pair, err := c.ExchangeCode(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.AccessToken != "at-1" || pair.RefreshToken != "rt-1" {
		t.Errorf("unexpected pair %+v", pair)
	}
	if pair.Expiry.IsZero() {
		t.Error("expected expiry from expires_in")
	}

	_, err = c.ExchangeCode(context.Background(), "bad-code")
	if domain.StatusCodeOf(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /fhir/oauth2/token", tokenHandler(t))
	c, _ := newAggregator(t, mux)

	pair, err := c.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.AccessToken != "at-2" || pair.RefreshToken != "rt-2" {
		t.Errorf("unexpected pair %+v", pair)
	}

	_, err = c.Refresh(context.Background(), "stale")
	if domain.StatusCodeOf(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}

	if _, err := c.Refresh(context.Background(), ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty refresh token, got %v", err)
	}
}

func TestFetchBundleAndResource(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fhir/dstu2/Patient", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Accept") != fhirAcceptHeader {
			t.Errorf("unexpected accept header %q", r.Header.Get("Accept"))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"resourceType": "Bundle",
			"entry":        []map[string]any{{"fullUrl": srvURL + "/fhir/dstu2/Patient/p1"}},
			"link":         []map[string]any{{"relation": "next", "url": srvURL + "/fhir/dstu2/Patient?page=2"}},
		})
	})
	mux.HandleFunc("GET /fhir/dstu2/Patient/p1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"resourceType": "Patient", "id": "p1", "gender": "female"})
	})
	mux.HandleFunc("GET /fhir/dstu2/Patient/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream", http.StatusBadGateway)
	})
	c, srv := newAggregator(t, mux)
	srvURL = srv.URL

	bundle, err := c.FetchBundle(context.Background(), "tok", srv.URL+"/fhir/dstu2/Patient")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundle.Entry) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(bundle.Entry))
	}
	if bundle.NextURL() != srv.URL+"/fhir/dstu2/Patient?page=2" {
		t.Errorf("unexpected next url %q", bundle.NextURL())
	}

	res, err := c.FetchResource(context.Background(), "tok", bundle.Entry[0].FullURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResourceType != "Patient" || res.ID != "p1" {
		t.Errorf("unexpected resource %+v", res)
	}
	var body map[string]any
	if err := json.Unmarshal(res.Body, &body); err != nil || body["gender"] != "female" {
		t.Errorf("expected full body to be kept, got %s", res.Body)
	}

	_, err = c.FetchBundle(context.Background(), "wrong", srv.URL+"/fhir/dstu2/Patient")
	if domain.StatusCodeOf(err) != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}

	_, err = c.FetchResource(context.Background(), "tok", srv.URL+"/fhir/dstu2/Patient/broken")
	var se *domain.HTTPStatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway || se.Method != http.MethodGet {
		t.Errorf("expected 502 status error, got %v", err)
	}
}

func TestFetchBundle_InvalidJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fhir/dstu2/Patient", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})
	c, srv := newAggregator(t, mux)

	if _, err := c.FetchBundle(context.Background(), "tok", srv.URL+"/fhir/dstu2/Patient"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRateLimiterIsApplied(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fhir/dstu2/Patient", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"resourceType": "Bundle"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), RequestsPerSecond: 1000, Burst: 2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.FetchBundle(ctx, "tok", srv.URL+"/fhir/dstu2/Patient"); err == nil {
		t.Fatal("expected cancelled context to stop the limiter wait")
	}

	for i := 0; i < 3; i++ {
		if _, err := c.FetchBundle(context.Background(), "tok", srv.URL+"/fhir/dstu2/Patient"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}
