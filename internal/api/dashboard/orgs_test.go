package dashboard

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/smp-platform/access-gateway/internal/db/repositories"
	"github.com/smp-platform/access-gateway/internal/services"
)

// ---------------------------------------------------------------------------
// Test setup helpers
// ---------------------------------------------------------------------------

const testDefaultRPM = 60

// newOrgRouter creates a gin router with all OrgHandlers routes registered,
// backed by a real OrganizationService over sqlmock.
func newOrgRouter(t *testing.T, mw ...gin.HandlerFunc) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	members := repositories.NewMembershipRepository(sqlx.NewDb(db, "sqlmock"))
	orgs := services.NewOrganizationService(
		repositories.NewOrganizationRepository(db),
		repositories.NewUserRepository(db),
		members,
		services.NewRBACService(members),
		testDefaultRPM,
	)
	h := NewOrgHandlers(orgs)

	r := gin.New()
	r.Use(mw...)
	r.POST("/orgs", h.CreateOrganizationHandler())
	r.GET("/orgs", h.ListOrganizationsHandler())
	r.GET("/orgs/:id/members", h.ListMembersHandler())
	r.POST("/orgs/:id/members", h.AddMemberHandler())
	r.DELETE("/orgs/:id/members/:user_id", h.RemoveMemberHandler())

	return mock, r
}

func expectUserByEmail(mock sqlmock.Sqlmock, email, userID string) {
	mock.ExpectQuery(`SELECT.*FROM users.*WHERE lower\(email\)`).
		WithArgs(email).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(userID, email, "hash", time.Now()))
}

func expectOwnerLock(mock sqlmock.Sqlmock, orgID string, ownerIDs ...string) {
	rows := sqlmock.NewRows([]string{"user_id"})
	for _, id := range ownerIDs {
		rows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT user_id FROM organization_members.*FOR UPDATE`).
		WithArgs(orgID).
		WillReturnRows(rows)
}

// ---------------------------------------------------------------------------
// CreateOrganizationHandler
// ---------------------------------------------------------------------------

func TestCreateOrganizationHandler_Success(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("user-1"))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO organizations`).
		WithArgs(sqlmock.AnyArg(), "Acme", testDefaultRPM, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO organization_members`).
		WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs",
		jsonBody(map[string]string{"name": "Acme"})))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["name"] != "Acme" {
		t.Errorf("name = %v, want Acme", resp["name"])
	}
	if resp["rate_limit_rpm"] != float64(testDefaultRPM) {
		t.Errorf("rate_limit_rpm = %v, want %d", resp["rate_limit_rpm"], testDefaultRPM)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateOrganizationHandler_Unauthenticated(t *testing.T) {
	_, r := newOrgRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs",
		jsonBody(map[string]string{"name": "Acme"})))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCreateOrganizationHandler_InvalidJSON(t *testing.T) {
	_, r := newOrgRouter(t, asUser("user-1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs", bytes.NewBufferString("{bad")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateOrganizationHandler_ShortName(t *testing.T) {
	_, r := newOrgRouter(t, asUser("user-1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs",
		jsonBody(map[string]string{"name": "A"})))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateOrganizationHandler_APIKeyDenied(t *testing.T) {
	_, r := newOrgRouter(t, asAPIKey("org-1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs",
		jsonBody(map[string]string{"name": "Acme"})))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListOrganizationsHandler
// ---------------------------------------------------------------------------

func TestListOrganizationsHandler_Success(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("user-1"))

	mock.ExpectQuery(`SELECT.*FROM organization_members om.*LEFT JOIN organizations o`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(membershipListCols).
			AddRow("org-1", "Acme", "owner", time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orgs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	orgs, _ := resp["organizations"].([]interface{})
	if len(orgs) != 1 {
		t.Errorf("len(organizations) = %d, want 1", len(orgs))
	}
}

func TestListOrganizationsHandler_Unauthenticated(t *testing.T) {
	_, r := newOrgRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orgs", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListMembersHandler
// ---------------------------------------------------------------------------

func TestListMembersHandler_Success(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("user-1"))

	expectMemberRole(mock, "org-1", "user-1", "member")
	mock.ExpectQuery(`SELECT.*FROM organization_members om.*LEFT JOIN users u`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "user_id", "role", "created_at", "user_email"}).
			AddRow("org-1", "user-1", "member", time.Now(), "user-1@example.com").
			AddRow("org-1", "user-2", "owner", time.Now(), "user-2@example.com"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orgs/org-1/members", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	members, _ := resp["members"].([]interface{})
	if len(members) != 2 {
		t.Errorf("len(members) = %d, want 2", len(members))
	}
}

func TestListMembersHandler_StrangerDenied(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("user-9"))

	expectNoMembership(mock, "org-1", "user-9")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/orgs/org-1/members", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "Not a member of this organization" {
		t.Errorf("error = %v, want 'Not a member of this organization'", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// AddMemberHandler
// ---------------------------------------------------------------------------

func TestAddMemberHandler_Success(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "admin")
	expectUserByEmail(mock, "new@example.com", "target")
	expectNoMembership(mock, "org-1", "target")

	mock.ExpectBegin()
	expectOwnerLock(mock, "org-1", "someone-else")
	mock.ExpectExec(`INSERT INTO organization_members.*ON CONFLICT`).
		WithArgs("org-1", "target", "member").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	expectMemberRole(mock, "org-1", "target", "member")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs/org-1/members",
		jsonBody(map[string]string{"email": "new@example.com", "role": "member"})))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	member, _ := resp["member"].(map[string]interface{})
	if member == nil || member["role"] != "member" {
		t.Errorf("member = %v, want role member", resp["member"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddMemberHandler_InvalidRole(t *testing.T) {
	_, r := newOrgRouter(t, asUser("actor"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs/org-1/members",
		jsonBody(map[string]string{"email": "new@example.com", "role": "superuser"})))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "Invalid role. Must be one of: member, admin, owner" {
		t.Errorf("error = %v, want role format message", resp["error"])
	}
}

func TestAddMemberHandler_UnknownEmail(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "admin")
	mock.ExpectQuery(`SELECT.*FROM users.*WHERE lower\(email\)`).
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows(userCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs/org-1/members",
		jsonBody(map[string]string{"email": "ghost@example.com", "role": "member"})))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "User not found" {
		t.Errorf("error = %v, want 'User not found'", resp["error"])
	}
}

func TestAddMemberHandler_MemberActorDenied(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "member")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs/org-1/members",
		jsonBody(map[string]string{"email": "new@example.com", "role": "member"})))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestAddMemberHandler_LastOwnerDemotion(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "owner")
	expectUserByEmail(mock, "actor@example.com", "actor")
	expectMemberRole(mock, "org-1", "actor", "owner")

	mock.ExpectBegin()
	expectOwnerLock(mock, "org-1", "actor")
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/orgs/org-1/members",
		jsonBody(map[string]string{"email": "actor@example.com", "role": "admin"})))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "Organization must retain at least one owner" {
		t.Errorf("error = %v, want last-owner message", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// RemoveMemberHandler
// ---------------------------------------------------------------------------

func TestRemoveMemberHandler_Success(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "admin")
	expectMemberRole(mock, "org-1", "target", "member")

	mock.ExpectBegin()
	expectOwnerLock(mock, "org-1", "someone-else")
	mock.ExpectExec(`DELETE FROM organization_members`).
		WithArgs("org-1", "target").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/orgs/org-1/members/target", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	if resp := getJSON(w); resp["message"] != "Member removed" {
		t.Errorf("message = %v, want 'Member removed'", resp["message"])
	}
}

func TestRemoveMemberHandler_TargetNotFound(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "admin")
	expectNoMembership(mock, "org-1", "ghost")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/orgs/org-1/members/ghost", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "Member not found" {
		t.Errorf("error = %v, want 'Member not found'", resp["error"])
	}
}

func TestRemoveMemberHandler_LastOwnerProtected(t *testing.T) {
	mock, r := newOrgRouter(t, asUser("actor"))

	expectMemberRole(mock, "org-1", "actor", "owner")
	expectMemberRole(mock, "org-1", "actor", "owner")

	mock.ExpectBegin()
	expectOwnerLock(mock, "org-1", "actor")
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/orgs/org-1/members/actor", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}
