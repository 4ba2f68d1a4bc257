package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/urgencias/internal/platform/apperr"
)

func TestMapError(t *testing.T) {
	if MapError(nil, "bed") != nil {
		t.Error("expected nil for nil error")
	}
	if err := MapError(pgx.ErrNoRows, "bed"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "bed_code_key"}
	if err := MapError(dup, "bed"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	other := errors.New("connection reset")
	if err := MapError(other, "bed"); !errors.Is(err, other) || errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected wrapped original error, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "bed_encounter_id_key"}
	if !IsUniqueViolation(dup, "bed_encounter_id_key") {
		t.Error("expected match on constraint")
	}
	if IsUniqueViolation(dup, "bed_code_key") {
		t.Error("expected no match on other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("expected foreign key violation not to match")
	}
}
