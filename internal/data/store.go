// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/PaulBabatuyi/roomChat-gRPC/internal/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ErrDuplicate is returned when an insert collides with an existing _id.
var ErrDuplicate = errors.New("duplicate key")

// DefaultStoreTimeout bounds a single durable store call when the caller does
// not configure one.
const DefaultStoreTimeout = 5 * time.Second

// bounded attaches the store timeout to ctx. A timeout fails the whole
// operation; no partial result is reported.
func bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// storeErr classifies a driver error. "No documents" becomes ErrNotFound,
// duplicate keys become ErrDuplicate, everything else is ErrUnavailable.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, apperrors.ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w: %v", op, apperrors.ErrUnavailable, err)
	}
}

// pageBounds normalizes a 1-based page and limit into skip/limit values.
func pageBounds(page, limit int) (skip, size int64) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return int64(page-1) * int64(limit), int64(limit)
}
