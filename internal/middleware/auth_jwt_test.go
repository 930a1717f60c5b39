package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	token, err := SignJWT("secret", TokenClaims{
		Sub:    "user-1",
		Locale: "ja",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := VerifyJWT("secret", token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Sub != "user-1" || claims.Locale != "ja" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsBadSignatureAndExpiry(t *testing.T) {
	token, err := SignJWT("secret", TokenClaims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyJWT("other-secret", token); err == nil {
		t.Fatal("wrong secret accepted")
	}

	expired, err := SignJWT("secret", TokenClaims{Sub: "user-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := VerifyJWT("secret", expired); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	var gotUser, gotLocale string
	handler := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotLocale = LocaleFromContext(r.Context())
	}))

	// No header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no header = %d, want 401", rec.Code)
	}

	// Valid token with a locale claim.
	token, err := SignJWT("secret", TokenClaims{
		Sub:    "user-1",
		Locale: "ja",
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token = %d, want 200", rec.Code)
	}
	if gotUser != "user-1" || gotLocale != "ja" {
		t.Fatalf("user/locale = %s/%s", gotUser, gotLocale)
	}
}
