// Package gormstore persists bookings, refunds, and ticket orders through
// GORM. It runs against PostgreSQL in production and glebarez sqlite in
// tests; conflict detection handles both drivers.
package gormstore

import (
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	constraintOrderReference = "ticket_orders_reference_id_key"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19

	errorOperationStore = "store"

	errorSubjectBooking     = "booking"
	errorSubjectPolicy      = "policy"
	errorSubjectTransaction = "transaction"
	errorSubjectPending     = "pending_refund"
	errorSubjectOrder       = "order"
	errorSubjectTier        = "tier"
	errorSubjectHold        = "hold"

	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeDuplicate    = "duplicate"
	errorCodeSumRefunded  = "sum_refunded"
	errorCodeUpdateStatus = "update_status"
	errorCodeReserve      = "reserve"
	errorCodeRelease      = "release"
	errorCodeExpire       = "expire"
)

// Migrate creates or updates the schema for every record type.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

type sqlSum struct {
	Total int64
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraintName == "" || pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
