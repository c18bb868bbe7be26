package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateAndParsePageToken(t *testing.T) {
	token, pageID, err := GeneratePageToken("https://example.test", testSecret, 15)
	if err != nil {
		t.Fatalf("GeneratePageToken() error = %v", err)
	}
	if token == "" || pageID == "" {
		t.Fatal("GeneratePageToken() returned empty token or page id")
	}

	claims, err := ParsePageToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParsePageToken() error = %v", err)
	}
	if claims.PageID() != pageID {
		t.Errorf("PageID() = %q, want %q", claims.PageID(), pageID)
	}
	if claims.Origin != "https://example.test" {
		t.Errorf("Origin = %q", claims.Origin)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != 15*time.Minute {
		t.Errorf("ttl = %v, want 15m", ttl)
	}
}

func TestGeneratePageToken_DefaultTTL(t *testing.T) {
	token, _, err := GeneratePageToken("", testSecret, 0)
	if err != nil {
		t.Fatalf("GeneratePageToken() error = %v", err)
	}
	claims, err := ParsePageToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParsePageToken() error = %v", err)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != DefaultPageTokenTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultPageTokenTTL)
	}
}

func TestGeneratePageToken_UniquePageIDs(t *testing.T) {
	_, a, _ := GeneratePageToken("", testSecret, 5)
	_, b, _ := GeneratePageToken("", testSecret, 5)
	if a == b {
		t.Errorf("two tokens share page id %q", a)
	}
}

func sign(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestParsePageToken_Rejects(t *testing.T) {
	now := time.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "0b7e1c9a-5b61-4d2e-9a43-6f3f1f0f7d11",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	noExpiry := valid
	noExpiry.ExpiresAt = nil
	badSubject := valid
	badSubject.Subject = "page-1"

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-valid-jwt"},
		{"wrong secret", sign(t, &PageClaims{RegisteredClaims: valid}, jwt.SigningMethodHS256, []byte("other"))},
		{"expired", sign(t, &PageClaims{RegisteredClaims: expired}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"no expiry", sign(t, &PageClaims{RegisteredClaims: noExpiry}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"subject not a uuid", sign(t, &PageClaims{RegisteredClaims: badSubject}, jwt.SigningMethodHS256, []byte(testSecret))},
		{"alg none", sign(t, &PageClaims{RegisteredClaims: valid}, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)},
		{"hs512", sign(t, &PageClaims{RegisteredClaims: valid}, jwt.SigningMethodHS512, []byte(testSecret))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePageToken(tt.token, testSecret)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParsePageToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestMissingSecret(t *testing.T) {
	if _, _, err := GeneratePageToken("", "", 5); !errors.Is(err, ErrSecretMissing) {
		t.Errorf("GeneratePageToken() error = %v, want ErrSecretMissing", err)
	}
	if _, err := ParsePageToken("x", ""); !errors.Is(err, ErrSecretMissing) {
		t.Errorf("ParsePageToken() error = %v, want ErrSecretMissing", err)
	}
}
