package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blinkd/internal/domain"
)

func TestLogin_FormEncoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("username") != "a@b.com" || r.Form.Get("password") != "secret1" {
			t.Fatalf("unexpected form: %v", r.Form)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token": "tok-1",
			"token_type":   "bearer",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	tok, err := c.Login(context.Background(), "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok != "tok-1" {
		t.Fatalf("token = %q", tok)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect email or password"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "a@b.com", "wrong")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusUnauthorized || statusErr.Detail != "Incorrect email or password" {
		t.Fatalf("unexpected error: %+v", statusErr)
	}
}

func TestUploadBlink_BodyAndAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blinks/upload" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Fatalf("missing bearer auth: %q", r.Header.Get("Authorization"))
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["blink_count"] != float64(12) {
			t.Fatalf("blink_count = %v", body["blink_count"])
		}
		if _, present := body["timestamp"]; present {
			t.Fatal("timestamp must be omitted when the record has none")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": 1, "blink_count": 12})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.UploadBlink(context.Background(), "tok-1", domain.BlinkRecord{BlinkCount: 12})
	if err != nil {
		t.Fatalf("UploadBlink: %v", err)
	}
}

func TestUploadBlink_LegacyTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["timestamp"] != "2026-08-30T10:00:00Z" {
			t.Fatalf("timestamp = %v", body["timestamp"])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	err := c.UploadBlink(context.Background(), "tok-1", domain.BlinkRecord{
		BlinkCount: 3,
		Timestamp:  "2026-08-30T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("UploadBlink: %v", err)
	}
}

func TestListBlinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/blinks/user" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": 1, "user_id": 7, "blink_count": 5, "timestamp": "t1"},
			{"id": 2, "user_id": 7, "blink_count": 9, "timestamp": "t2"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	blinks, err := c.ListBlinks(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("ListBlinks: %v", err)
	}
	if len(blinks) != 2 || blinks[1].BlinkCount != 9 {
		t.Fatalf("blinks = %+v", blinks)
	}
}

func TestNetworkErrorIsNotStatusError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	err := c.UploadBlink(context.Background(), "tok", domain.BlinkRecord{BlinkCount: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		t.Fatalf("transport failure reported as StatusError: %v", err)
	}
}
