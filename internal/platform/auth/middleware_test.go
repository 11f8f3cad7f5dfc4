package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "3f1b8f7e-8c1a-4a8e-9d55-1f2a3b4c5d6e",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: "north",
		Username: "reena",
		Role:     RoleTechnician,
		Roles:    []string{RoleTechnician},
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (context.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var ctx context.Context
	err := mw(func(c echo.Context) error {
		ctx = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})(c)
	return ctx, err
}

func assertStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(), testSigningKey)

	ctx, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := UserIDFromContext(ctx); got != "3f1b8f7e-8c1a-4a8e-9d55-1f2a3b4c5d6e" {
		t.Errorf("unexpected user id %q", got)
	}
	if got := UsernameFromContext(ctx); got != "reena" {
		t.Errorf("expected username reena, got %q", got)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != RoleTechnician {
		t.Errorf("expected [technician], got %v", roles)
	}
	if UserUUIDFromContext(ctx).String() != "3f1b8f7e-8c1a-4a8e-9d55-1f2a3b4c5d6e" {
		t.Error("expected subject to parse as UUID")
	}
}

func TestJWTMiddleware_SetsTenantForTenantMiddleware(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error { return nil })(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, _ := c.Get("jwt_tenant_id").(string); got != "north" {
		t.Errorf("expected jwt_tenant_id north, got %q", got)
	}
}

func TestJWTMiddleware_RoleOnlyClaim(t *testing.T) {
	claims := validClaims()
	claims.Roles = nil
	claims.Role = RoleDoctor
	tokenStr := createTestToken(t, claims, testSigningKey)

	ctx, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleDoctor {
		t.Errorf("expected [doctor], got %v", roles)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingExpiry(t *testing.T) {
	claims := validClaims()
	claims.ExpiresAt = nil
	tokenStr := createTestToken(t, claims, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(), []byte("another-key"))

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	claims := validClaims()
	claims.Issuer = "someone-else"
	tokenStr := createTestToken(t, claims, testSigningKey)

	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{Issuer: "lims", SigningKey: testSigningKey}), "Bearer "+tokenStr)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	ctx, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := UserIDFromContext(ctx); got != DevUserID {
		t.Errorf("expected dev user id, got %q", got)
	}
	if !IsAdmin(ctx) {
		t.Error("expected dev identity to be admin")
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(), testSigningKey)
	ctx, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if IsAdmin(ctx) {
		t.Error("expected token role to replace the dev admin identity")
	}
	if !HasRole(ctx, RoleTechnician) {
		t.Error("expected technician role from token")
	}

	_, err = runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer garbage")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestUserUUIDFromContext_NotUUID(t *testing.T) {
	ctx := WithIdentity(context.Background(), "not-a-uuid", "x", nil)
	if id := UserUUIDFromContext(ctx); id.String() != DevUserID {
		t.Errorf("expected nil UUID, got %s", id)
	}
}

func TestJWTMiddleware_WebSocketQueryToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	tok := createTestToken(t, validClaims(), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws?access_token="+tok, nil)
	req.Header.Set("Upgrade", "websocket")
	c := e.NewContext(req, httptest.NewRecorder())

	var userID string
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		userID = UserIDFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != validClaims().Subject {
		t.Errorf("expected user from query token, got %q", userID)
	}
}

func TestJWTMiddleware_QueryTokenIgnoredWithoutUpgrade(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	tok := createTestToken(t, validClaims(), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/samples?access_token="+tok, nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(cfg)(func(c echo.Context) error { return nil })(c)
	assertStatus(t, err, http.StatusUnauthorized)
}
