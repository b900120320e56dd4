package storage

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/searchhub/searchhub/internal/apperr"
)

// classify maps a driver error to the apperr taxonomy. Called at every
// repository method boundary; pipeline code never sees pgx internals.
func classify(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.E(apperr.NotFound, domain, op, err)
	}
	if isConnectivity(err) {
		return apperr.E(apperr.Transient, domain, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return apperr.E(apperr.Conflict, domain, op, err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception class
			return apperr.E(apperr.Transient, domain, op, err)
		case pgErr.Code == "57P01": // admin_shutdown
			return apperr.E(apperr.Transient, domain, op, err)
		}
	}
	return apperr.E(apperr.Internal, domain, op, err)
}

// isConnectivity reports whether err looks like a transport-level failure
// rather than a statement-level one.
func isConnectivity(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
