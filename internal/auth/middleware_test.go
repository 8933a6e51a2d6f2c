package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func guarded(t *testing.T, ring *Keyring, seen *Caller) http.Handler {
	t.Helper()
	return Guard(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := CallerFrom(r.Context())
		if !ok {
			t.Fatalf("expected caller in context")
		}
		if seen != nil {
			*seen = c
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func serve(h http.Handler, remoteAddr string, header map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/patch", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestLocalhostBypass(t *testing.T) {
	var c Caller
	h := guarded(t, NewKeyring(true, nil), &c)

	for _, addr := range []string{"127.0.0.1:1234", "[::1]:1234", "@"} {
		c = Caller{}
		if code := serve(h, addr, nil); code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", addr, code)
		}
		if !c.Local || c.Name() != "local" {
			t.Fatalf("%s: expected local caller, got %+v", addr, c)
		}
	}
}

func TestLocalhostRequiresKeyWhenBypassDisabled(t *testing.T) {
	h := guarded(t, NewKeyring(false, nil), nil)
	if code := serve(h, "127.0.0.1:1234", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestForwardedForDoesNotGrantLocalAccess(t *testing.T) {
	h := guarded(t, NewKeyring(true, nil), nil)
	for _, v := range []string{"127.0.0.1", "::1", "localhost", "127.0.0.1, 10.0.0.1"} {
		code := serve(h, "203.0.113.9:4000", map[string]string{"X-Forwarded-For": v})
		if code != http.StatusUnauthorized {
			t.Fatalf("X-Forwarded-For %q: expected 401, got %d", v, code)
		}
	}
}

func TestNonLocalhostRequiresBearer(t *testing.T) {
	var c Caller
	h := guarded(t, NewKeyring(true, map[string]string{"secret": "ops"}), &c)
	const remote = "203.0.113.10:9999"

	if code := serve(h, remote, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", code)
	}
	if code := serve(h, remote, map[string]string{"Authorization": "Bearer wrong"}); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong bearer, got %d", code)
	}
	if code := serve(h, remote, map[string]string{"Authorization": "Basic secret"}); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with basic scheme, got %d", code)
	}
	if code := serve(h, remote, map[string]string{"Authorization": "bearer  secret "}); code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", code)
	}
	if c.Operator != "ops" || c.Local || c.Name() != "ops" {
		t.Fatalf("unexpected caller: %+v", c)
	}
}

func TestWrongKeyRejectedEvenFromLoopback(t *testing.T) {
	h := guarded(t, NewKeyring(true, map[string]string{"secret": "ops"}), nil)
	code := serve(h, "127.0.0.1:1234", map[string]string{"Authorization": "Bearer stale"})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestParseKeys(t *testing.T) {
	ring, err := ParseKeys(" ops:abc , ci:def,", true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ring.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", ring.Len())
	}
	if op, ok := ring.OperatorForKey("def"); !ok || op != "ci" {
		t.Fatalf("expected ci for def, got %q %v", op, ok)
	}

	if _, err := ParseKeys("nocolon", true); err == nil {
		t.Fatalf("expected error for malformed entry")
	}
	if _, err := ParseKeys("a:same,b:same", true); err == nil {
		t.Fatalf("expected error for reused key")
	}
	empty, err := ParseKeys("", false)
	if err != nil || empty.Len() != 0 || empty.AllowLocalhostWithoutAuth {
		t.Fatalf("unexpected empty keyring: %+v %v", empty, err)
	}
}
