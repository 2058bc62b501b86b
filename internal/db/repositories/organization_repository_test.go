package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/smp-platform/access-gateway/internal/db/models"
)

var orgCols = []string{"id", "name", "rate_limit_rpm", "created_at"}

func sampleOrgRow() *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).
		AddRow("org-1", "Acme", 120, time.Now())
}

func newOrgRepo(t *testing.T) (*OrganizationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewOrganizationRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateWithOwner
// ---------------------------------------------------------------------------

func TestCreateWithOwner_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO organization_members").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	org := &models.Organization{Name: "Acme", RateLimitRPM: 60}
	if err := repo.CreateWithOwner(context.Background(), org, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.ID == "" {
		t.Error("expected generated ID, got empty string")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateWithOwner_OrgInsertFails(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnError(errDB)
	mock.ExpectRollback()

	org := &models.Organization{Name: "Acme", RateLimitRPM: 60}
	if err := repo.CreateWithOwner(context.Background(), org, "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateWithOwner_MemberInsertFails(t *testing.T) {
	// The org insert must roll back when the owner row cannot be written;
	// an org without an owner never becomes visible.
	repo, mock := newOrgRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO organization_members").
		WillReturnError(errDB)
	mock.ExpectRollback()

	org := &models.Organization{Name: "Acme", RateLimitRPM: 60}
	if err := repo.CreateWithOwner(context.Background(), org, "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestGetOrgByID_Found(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations.*WHERE id").
		WithArgs("org-1").
		WillReturnRows(sampleOrgRow())

	org, err := repo.GetByID(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org == nil {
		t.Fatal("expected org, got nil")
	}
	if org.RateLimitRPM != 120 {
		t.Errorf("RateLimitRPM = %d, want 120", org.RateLimitRPM)
	}
}

func TestGetOrgByID_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations.*WHERE id").
		WillReturnRows(sqlmock.NewRows(orgCols))

	org, err := repo.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org != nil {
		t.Errorf("expected nil org, got %v", org)
	}
}

// ---------------------------------------------------------------------------
// Count
// ---------------------------------------------------------------------------

func TestCountOrganizations_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM organizations").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
