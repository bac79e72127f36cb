package services

import (
	"database/sql/driver"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aloy/roommate-booking/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var fixedTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

var groupCols = []string{"id", "apartment_id", "creator_id", "invite_code", "status", "created_at", "booked_at"}

var memberCols = []string{"group_id", "tenant_id", "tenant_name", "joined_at"}

var apartmentCols = []string{
	"id", "owner_id", "title", "address", "district", "monthly_rent", "allowed_for",
	"booked", "status", "available_from", "created_at", "updated_at",
}

var paymentCols = []string{
	"id", "transaction_id", "apartment_id", "tenant_id", "amount", "currency", "status",
	"vacate_date", "created_at", "updated_at",
}

func groupRows(g *models.RoommateGroup) *sqlmock.Rows {
	var bookedAt driver.Value
	if g.BookedAt != nil {
		bookedAt = *g.BookedAt
	}
	return sqlmock.NewRows(groupCols).AddRow(
		g.ID.String(), g.ApartmentID.String(), g.CreatorID.String(), g.InviteCode, string(g.Status), fixedTime, bookedAt,
	)
}

func memberRows(groupID uuid.UUID, tenants ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows(memberCols)
	for i, tenantID := range tenants {
		rows.AddRow(groupID.String(), tenantID.String(), "Tenant "+string(rune('A'+i)), fixedTime.Add(time.Duration(i)*time.Minute))
	}
	return rows
}

func apartmentRows(id uuid.UUID, allowedFor models.OccupancyType, booked bool) *sqlmock.Rows {
	status := models.ApartmentStatusAvailable
	if booked {
		status = models.ApartmentStatusRented
	}
	return sqlmock.NewRows(apartmentCols).AddRow(
		id.String(), uuid.New().String(), "Lakeview 3B", "12 Lake Rd", "Gulshan", "45000.00", string(allowedFor),
		booked, string(status), fixedTime, fixedTime, fixedTime,
	)
}

func paymentRows(p *models.Payment) *sqlmock.Rows {
	var apartmentID, tenantID, vacateDate driver.Value
	if p.ApartmentID != nil {
		apartmentID = p.ApartmentID.String()
	}
	if p.TenantID != nil {
		tenantID = p.TenantID.String()
	}
	if p.VacateDate != nil {
		vacateDate = *p.VacateDate
	}
	return sqlmock.NewRows(paymentCols).AddRow(
		p.ID.String(), p.TransactionID, apartmentID, tenantID, p.Amount.StringFixed(2), p.Currency, string(p.Status),
		vacateDate, fixedTime, fixedTime,
	)
}

func userRows(id uuid.UUID, role string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "role", "created_at"}).
		AddRow(id.String(), "Test Tenant", "tenant@example.com", role, fixedTime)
}

func newPayment(apartmentID, tenantID uuid.UUID, status models.PaymentStatus) *models.Payment {
	return &models.Payment{
		ID:            uuid.New(),
		TransactionID: "PAY" + uuid.New().String()[:8],
		ApartmentID:   &apartmentID,
		TenantID:      &tenantID,
		Amount:        decimal.RequireFromString("45000"),
		Currency:      "BDT",
		Status:        status,
	}
}

// ============================================================================
// EXPECTATION HELPERS
// ============================================================================

func expectLockGroup(mock sqlmock.Sqlmock, g *models.RoommateGroup, members ...uuid.UUID) {
	mock.ExpectQuery(`FROM roommate_groups WHERE id = \$1 FOR UPDATE`).
		WithArgs(g.ID).
		WillReturnRows(groupRows(g))
	mock.ExpectQuery(`FROM roommate_group_members m`).
		WithArgs(g.ID).
		WillReturnRows(memberRows(g.ID, members...))
}

func expectGroupApartment(mock sqlmock.Sqlmock, g *models.RoommateGroup) {
	mock.ExpectQuery(`SELECT apartment_id FROM roommate_groups WHERE id = \$1`).
		WithArgs(g.ID).
		WillReturnRows(sqlmock.NewRows([]string{"apartment_id"}).AddRow(g.ApartmentID.String()))
}

func expectLockApartment(mock sqlmock.Sqlmock, id uuid.UUID, booked bool) {
	mock.ExpectQuery(`FROM apartments WHERE id = \$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(apartmentRows(id, models.OccupancyBoth, booked))
}

func expectMarkApartmentBooked(mock sqlmock.Sqlmock, id uuid.UUID) {
	mock.ExpectExec(`UPDATE apartments SET booked = TRUE`).
		WithArgs(id, string(models.ApartmentStatusRented)).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectCancelActive(mock sqlmock.Sqlmock, apartmentID, except uuid.UUID, cancelled ...uuid.UUID) {
	rows := sqlmock.NewRows([]string{"id"})
	for _, id := range cancelled {
		rows.AddRow(id.String())
	}
	mock.ExpectQuery(`UPDATE roommate_groups SET status = 'CANCELLED' WHERE apartment_id = \$1`).
		WithArgs(apartmentID, except).
		WillReturnRows(rows)
	if len(cancelled) > 0 {
		expectDeactivateMembers(mock)
	}
}

func expectDeactivateMembers(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`UPDATE roommate_group_members SET active = FALSE`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))
}

func expectGroupStatusUpdate(mock sqlmock.Sqlmock, groupID uuid.UUID, next models.GroupStatus, expected ...models.GroupStatus) {
	args := []driver.Value{string(next), groupID.String()}
	for _, s := range expected {
		args = append(args, string(s))
	}
	mock.ExpectExec(`UPDATE roommate_groups SET status = \? WHERE id = \? AND status IN`).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if next.IsTerminal() {
		expectDeactivateMembers(mock)
	}
}

func expectUser(mock sqlmock.Sqlmock, id uuid.UUID, role string) {
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(userRows(id, role))
}

func fourTenants() []uuid.UUID {
	return []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
}
