package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signWith(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestMobileMoneyInitiateSignsAndParses(t *testing.T) {
	const secret = "shh"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions" || r.Method != http.MethodPost {
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if got, want := r.Header.Get("X-Signature"), signWith(secret, body); got != want {
			t.Errorf("bad signature: got %s want %s", got, want)
		}
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		if payload["merchant_id"] != "m-1" || payload["reference"] != "top-1" {
			t.Errorf("unexpected payload: %v", payload)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true, "poll_url": "https://gw/poll/top-1", "redirect_url": "https://gw/pay/top-1",
		})
	}))
	defer srv.Close()

	c := NewMobileMoneyClient(srv.Client(), srv.URL, "m-1", secret, "https://api/webhook")
	res, err := c.Initiate(context.Background(), InitiateRequest{Reference: "top-1", DriverID: 1, AmountCents: 100, Phone: "+77001234567"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.PollURL != "https://gw/poll/top-1" || res.RedirectURL != "https://gw/pay/top-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestMobileMoneyInitiateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "insufficient funds"})
	}))
	defer srv.Close()

	c := NewMobileMoneyClient(srv.Client(), srv.URL, "m-1", "shh", "")
	if _, err := c.Initiate(context.Background(), InitiateRequest{Reference: "top-2", AmountCents: 100}); err == nil {
		t.Fatal("expected rejection error")
	}
}

func TestMobileMoneyInitiateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewMobileMoneyClient(srv.Client(), srv.URL, "m-1", "shh", "")
	if _, err := c.Initiate(context.Background(), InitiateRequest{Reference: "top-3", AmountCents: 100}); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestMobileMoneyPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"reference": "top-4", "status": "paid", "amount": 250, "method": "mobile_money",
		})
	}))
	defer srv.Close()

	c := NewMobileMoneyClient(srv.Client(), srv.URL, "m-1", "shh", "")
	res, err := c.Poll(context.Background(), srv.URL+"/poll/top-4")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Status != StatusPaid || res.AmountCents != 250 || res.Reference != "top-4" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestVerifySignature(t *testing.T) {
	c := NewMobileMoneyClient(nil, "", "m-1", "shh", "")
	body := []byte(`{"reference":"top-5","status":"paid"}`)
	if !c.VerifySignature(body, signWith("shh", body)) {
		t.Fatal("valid signature rejected")
	}
	if c.VerifySignature(body, signWith("wrong", body)) {
		t.Fatal("forged signature accepted")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPaid, StatusCancelled, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range []Status{StatusCreated, StatusSent} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}
