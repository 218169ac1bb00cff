package penwatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/penwatch/dbopen"
	"github.com/hazyhaar/penwatch/shield"
)

func post(t *testing.T, srv *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTP_Message(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{})
	srv := httptest.NewServer(w.Handler(HTTPOptions{}))
	defer srv.Close()

	resp := post(t, srv, "", `{"type":"PING"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var reply PingReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil || !reply.OK {
		t.Fatalf("reply %+v %v", reply, err)
	}
	if resp.Header.Get("X-Trace-ID") == "" || resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("headers %v", resp.Header)
	}

	if resp := post(t, srv, "", `{"type":"BOGUS"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid message: status %d", resp.StatusCode)
	}
}

func TestHTTP_BodyLimit(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{})
	srv := httptest.NewServer(w.Handler(HTTPOptions{MaxBody: 32}))
	defer srv.Close()

	body := `{"type":"PROMPT_UPDATED","prompt":"` + strings.Repeat("x", 64) + `"}`
	if resp := post(t, srv, "", body); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestHTTP_BearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	w, _ := newTestWatcher(t, &fakeEnhancer{})
	srv := httptest.NewServer(w.Handler(HTTPOptions{TokenHash: string(hash)}))
	defer srv.Close()

	if resp := post(t, srv, "", `{"type":"PING"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}
	if resp := post(t, srv, "wrong", `{"type":"PING"}`); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d", resp.StatusCode)
	}
	if resp := post(t, srv, "s3cret", `{"type":"PING"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("good token: status %d", resp.StatusCode)
	}

	// Health stays open.
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: status %d", resp.StatusCode)
	}
}

func TestHTTP_RateLimit(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := shield.Init(db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds) VALUES ('POST /v1/message', 1, 60)`); err != nil {
		t.Fatal(err)
	}
	w, _ := newTestWatcher(t, &fakeEnhancer{})
	srv := httptest.NewServer(w.Handler(HTTPOptions{RateLimiter: shield.NewRateLimiter(db)}))
	defer srv.Close()

	if resp := post(t, srv, "", `{"type":"PING"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("first: status %d", resp.StatusCode)
	}
	if resp := post(t, srv, "", `{"type":"PING"}`); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second: status %d", resp.StatusCode)
	}
}

func TestHTTP_Status(t *testing.T) {
	w, _ := newTestWatcher(t, &fakeEnhancer{})
	attach(t, w, "p1", "https://chat.example")
	srv := httptest.NewServer(w.Handler(HTTPOptions{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st []PageStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if len(st) != 1 || st[0].ID != "p1" || st[0].State.URL != "https://chat.example" {
		t.Fatalf("status %+v", st)
	}
}
