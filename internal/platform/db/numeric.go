package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Decimal converts a scanned NUMERIC into a decimal without a float round trip. NULL
// becomes zero.
func Decimal(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return decimal.Zero, errors.New("platform/db: non-finite numeric")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// Numeric converts a decimal into a NUMERIC parameter, usable in both query arguments and
// binary COPY.
func Numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}
