package auth

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// allocateCounterSQL performs the whole increment server-side. There is
// deliberately no read-then-write here: under concurrent callers each
// statement observes its own post-increment value, so every returned
// value is unique and the sequence has no allocator-made gaps.
var allocateCounterSQL = `INSERT INTO id_counters (organization_id, entity_type, last_value)
VALUES (?, ?, 1)
ON CONFLICT (organization_id, entity_type)
DO UPDATE SET last_value = id_counters.last_value + 1
RETURNING last_value;`

// IDAllocator mints tenant-scoped, human-readable sequential codes such
// as ACC-0001. Each (organization, entity type) pair starts
// independently at 1 and never reuses or decreases a value.
type IDAllocator struct {
	logger Logger
}

// NewIDAllocator creates an IDAllocator.
func NewIDAllocator(opts ...IDAllocatorOption) *IDAllocator {
	a := &IDAllocator{logger: defLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// IDAllocatorOption customizes an IDAllocator.
type IDAllocatorOption func(*IDAllocator)

// WithIDAllocatorLogger overrides the allocator's logger.
func WithIDAllocatorLogger(logger Logger) IDAllocatorOption {
	return func(a *IDAllocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NextID increments the (organization, entityType) counter atomically
// and returns the formatted code. Run it on the transaction of the
// insert that uses the code; a rollback may leave a gap in the
// sequence, which is acceptable.
func (a *IDAllocator) NextID(ctx context.Context, db bun.IDB, orgID uuid.UUID, entityType, prefix string) (string, error) {
	value, err := a.NextValue(ctx, db, orgID, entityType)
	if err != nil {
		return "", err
	}
	return FormatEntityCode(prefix, value), nil
}

// NextValue returns the bare incremented counter value.
func (a *IDAllocator) NextValue(ctx context.Context, db bun.IDB, orgID uuid.UUID, entityType string) (int64, error) {
	if orgID == uuid.Nil {
		return 0, goerrors.New("organization id is required", goerrors.CategoryBadInput)
	}

	entityType = strings.TrimSpace(entityType)
	if entityType == "" {
		return 0, goerrors.New("entity type is required", goerrors.CategoryBadInput)
	}

	var value int64
	if err := db.NewRaw(allocateCounterSQL, orgID, entityType).Scan(ctx, &value); err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to allocate sequential id")
	}

	return value, nil
}

// FormatEntityCode renders PREFIX-NNNN, zero padded to four digits and
// widening naturally past 9999.
func FormatEntityCode(prefix string, value int64) string {
	return fmt.Sprintf("%s-%04d", strings.ToUpper(strings.TrimSpace(prefix)), value)
}
