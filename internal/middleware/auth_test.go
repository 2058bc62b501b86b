package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/smp-platform/access-gateway/internal/auth"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/services"
)

// ---------------------------------------------------------------------------
// Helpers (shared across the middleware test files)
// ---------------------------------------------------------------------------

var (
	userCols = []string{"id", "email", "password_hash", "created_at"}

	apiKeyDigestCols = []string{
		"id", "organization_id", "name", "key_prefix", "key_hash", "is_active",
		"expires_at", "last_used_at", "expiry_notified_at", "created_at",
		"rate_limit_rpm",
	}
)

func newIdentity(t *testing.T) (*services.IdentityService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	identity := services.NewIdentityService(
		repositories.NewUserRepository(db),
		repositories.NewAPIKeyRepository(db),
	)
	return identity, mock
}

// authRouter builds a router gated by RequireAuth. A nil handler answers 200.
func authRouter(identity *services.IdentityService, handler gin.HandlerFunc) *gin.Engine {
	if handler == nil {
		handler = func(c *gin.Context) { c.Status(http.StatusOK) }
	}
	r := gin.New()
	r.Use(RequireAuth(identity))
	r.GET("/", handler)
	return r
}

func doAuth(r *gin.Engine, authorization, apiKey string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	r.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body %q is not JSON: %v", w.Body.String(), err)
	}
	return body["error"]
}

func bearerFor(t *testing.T, userID, email string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, email, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return "Bearer " + token
}

func testKey(t *testing.T) (plaintext, digest string) {
	t.Helper()
	plaintext, digest, _, err := auth.GenerateAPIKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	return plaintext, digest
}

func digestRow(digest string, active bool, expiresAt *time.Time, rpm int) *sqlmock.Rows {
	return sqlmock.NewRows(apiKeyDigestCols).AddRow(
		"key-1", "org-1", "ci key", "smp_test_abc", digest, active,
		expiresAt, nil, nil, time.Now(), rpm,
	)
}

// ---------------------------------------------------------------------------
// RequireAuth: denial taxonomy
// ---------------------------------------------------------------------------

func TestRequireAuth_NoCredentials(t *testing.T) {
	identity, _ := newIdentity(t)
	w := doAuth(authRouter(identity, nil), "", "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if msg := errorBody(t, w); msg != "Authentication required" {
		t.Errorf("error = %q, want %q", msg, "Authentication required")
	}
}

func TestRequireAuth_NonBearerAuthorization(t *testing.T) {
	identity, _ := newIdentity(t)
	w := doAuth(authRouter(identity, nil), "Basic dXNlcjpwYXNz", "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if msg := errorBody(t, w); msg != "Authentication required" {
		t.Errorf("error = %q, want %q", msg, "Authentication required")
	}
}

func TestRequireAuth_GarbageToken(t *testing.T) {
	identity, _ := newIdentity(t)
	w := doAuth(authRouter(identity, nil), "Bearer not.a.token", "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if msg := errorBody(t, w); msg != "Invalid or expired token" {
		t.Errorf("error = %q, want %q", msg, "Invalid or expired token")
	}
}

func TestRequireAuth_TokenSubjectDeleted(t *testing.T) {
	identity, mock := newIdentity(t)

	mock.ExpectQuery(`SELECT.*FROM users.*WHERE id`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userCols))

	w := doAuth(authRouter(identity, nil), bearerFor(t, "user-1", "alice@example.com"), "")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if msg := errorBody(t, w); msg != "Invalid or expired token" {
		t.Errorf("error = %q, want %q", msg, "Invalid or expired token")
	}
}

func TestRequireAuth_StoreError(t *testing.T) {
	identity, mock := newIdentity(t)

	mock.ExpectQuery(`SELECT.*FROM users.*WHERE id`).
		WillReturnError(errors.New("connection refused"))

	w := doAuth(authRouter(identity, nil), bearerFor(t, "user-1", "alice@example.com"), "")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if msg := errorBody(t, w); msg != "Authentication failed" {
		t.Errorf("error = %q, want %q", msg, "Authentication failed")
	}
}

// Unknown, revoked, and expired API keys are indistinguishable to the caller.
func TestRequireAuth_APIKeyDenials(t *testing.T) {
	past := time.Now().Add(-time.Minute)

	cases := []struct {
		name string
		rows func(digest string) *sqlmock.Rows
	}{
		{"unknown", func(string) *sqlmock.Rows { return sqlmock.NewRows(apiKeyDigestCols) }},
		{"revoked", func(d string) *sqlmock.Rows { return digestRow(d, false, nil, 120) }},
		{"expired", func(d string) *sqlmock.Rows { return digestRow(d, true, &past, 120) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			identity, mock := newIdentity(t)
			plaintext, digest := testKey(t)

			mock.ExpectQuery(`SELECT.*FROM api_keys ak.*WHERE ak\.key_hash`).
				WithArgs(digest).
				WillReturnRows(tc.rows(digest))

			w := doAuth(authRouter(identity, nil), "", plaintext)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if msg := errorBody(t, w); msg != "Invalid API key" {
				t.Errorf("error = %q, want %q", msg, "Invalid API key")
			}
		})
	}
}

func TestRequireAuth_DeniedReasonRecorded(t *testing.T) {
	identity, _ := newIdentity(t)

	var reason string
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		reason = c.GetString(DeniedReasonKey)
	})
	r.Use(RequireAuth(identity))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doAuth(r, "Bearer not.a.token", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if reason != "invalid_token" {
		t.Errorf("denied reason = %q, want %q", reason, "invalid_token")
	}
}

// ---------------------------------------------------------------------------
// RequireAuth: context population
// ---------------------------------------------------------------------------

func TestRequireAuth_UserPrincipalContext(t *testing.T) {
	identity, mock := newIdentity(t)

	mock.ExpectQuery(`SELECT.*FROM users.*WHERE id`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "alice@example.com", "hash", time.Now()))

	var (
		principal *auth.Principal
		found     bool
		rpm       int
		method    string
		userID    string
	)
	r := authRouter(identity, func(c *gin.Context) {
		principal, found = Principal(c)
		rpm = c.GetInt(RateLimitRPMKey)
		method = c.GetString("auth_method")
		userID = c.GetString("user_id")
		c.Status(http.StatusOK)
	})

	w := doAuth(r, bearerFor(t, "user-1", "alice@example.com"), "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !found {
		t.Fatal("Principal() not found in handler context")
	}
	if principal.Kind != auth.PrincipalUser || principal.UserID != "user-1" {
		t.Errorf("principal = %+v, want user principal user-1", principal)
	}
	if rpm != 0 {
		t.Errorf("rpm = %d, want 0 (default applies to user principals)", rpm)
	}
	if method != "bearer" {
		t.Errorf("auth_method = %q, want bearer", method)
	}
	if userID != "user-1" {
		t.Errorf("user_id = %q, want user-1", userID)
	}
}

func TestRequireAuth_APIKeyPrincipalContext(t *testing.T) {
	identity, mock := newIdentity(t)
	plaintext, digest := testKey(t)

	mock.ExpectQuery(`SELECT.*FROM api_keys ak.*INNER JOIN organizations o.*WHERE ak\.key_hash`).
		WithArgs(digest).
		WillReturnRows(digestRow(digest, true, nil, 120))
	mock.ExpectExec(`UPDATE api_keys.*SET last_used_at`).
		WithArgs("key-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var (
		principal *auth.Principal
		found     bool
		rpm       int
		method    string
		keyID     string
		orgID     string
	)
	r := authRouter(identity, func(c *gin.Context) {
		principal, found = Principal(c)
		rpm = c.GetInt(RateLimitRPMKey)
		method = c.GetString("auth_method")
		keyID = c.GetString("api_key_id")
		orgID = c.GetString("organization_id")
		c.Status(http.StatusOK)
	})

	w := doAuth(r, "", plaintext)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !found {
		t.Fatal("Principal() not found in handler context")
	}
	if principal.Kind != auth.PrincipalAPIKey || principal.KeyID != "key-1" || principal.OrgID != "org-1" {
		t.Errorf("principal = %+v, want api key principal key-1/org-1", principal)
	}
	if rpm != 120 {
		t.Errorf("rpm = %d, want 120 (owning org's rate_limit_rpm)", rpm)
	}
	if method != "api_key" {
		t.Errorf("auth_method = %q, want api_key", method)
	}
	if keyID != "key-1" {
		t.Errorf("api_key_id = %q, want key-1", keyID)
	}
	if orgID != "org-1" {
		t.Errorf("organization_id = %q, want org-1", orgID)
	}
}

func TestRequireAuth_BearerWinsOverAPIKey(t *testing.T) {
	identity, mock := newIdentity(t)
	plaintext, _ := testKey(t)

	// Only the user lookup may run; the key header must be ignored.
	mock.ExpectQuery(`SELECT.*FROM users.*WHERE id`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "alice@example.com", "hash", time.Now()))

	w := doAuth(authRouter(identity, nil), bearerFor(t, "user-1", "alice@example.com"), plaintext)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database traffic: %v", err)
	}
}

// ---------------------------------------------------------------------------
// presentedCredential / Principal
// ---------------------------------------------------------------------------

func TestPresentedCredential(t *testing.T) {
	cases := []struct {
		name          string
		authorization string
		apiKey        string
		want          string
	}{
		{"bearer", "Bearer tok", "", "bearer"},
		{"bearer wins over api key", "Bearer tok", "smp_live_x", "bearer"},
		{"api key", "", "smp_live_x", "api_key"},
		{"api key with basic authorization", "Basic dXNlcg==", "smp_live_x", "api_key"},
		{"bare authorization", "sometoken", "", "bearer"},
		{"none", "", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.authorization != "" {
				c.Request.Header.Set("Authorization", tc.authorization)
			}
			if tc.apiKey != "" {
				c.Request.Header.Set(APIKeyHeader, tc.apiKey)
			}

			if got := presentedCredential(c); got != tc.want {
				t.Errorf("presentedCredential = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPrincipal_Unset(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if _, ok := Principal(c); ok {
		t.Error("Principal() = ok on a context without authentication")
	}
}
