package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadlock", &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, ErrTransient},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrTransient},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, ErrTransient},
		{"connection failure", &pgconn.PgError{Code: "08006"}, ErrTransient},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "idx_licenses_license_key"}, ErrDuplicate},
		{"gorm duplicate", gorm.ErrDuplicatedKey, ErrDuplicate},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, Classify(tt.err), tt.want)
		})
	}
}

func TestClassifyPassesThroughOtherErrors(t *testing.T) {
	require.NoError(t, Classify(nil))

	plain := errors.New("boom")
	require.Equal(t, plain, Classify(plain))

	fk := &pgconn.PgError{Code: "23503"}
	require.Equal(t, error(fk), Classify(fk))

	require.ErrorIs(t, Classify(gorm.ErrRecordNotFound), gorm.ErrRecordNotFound)
}
