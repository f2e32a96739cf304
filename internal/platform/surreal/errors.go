package surreal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/phrazzld/synthgen/internal/store"
)

// ErrInvalidIndexName is returned for index names that cannot be used as
// part of a table name.
var ErrInvalidIndexName = errors.New("invalid vector index name")

// wrapError attaches operation context to a SurrealDB failure and maps
// known query errors onto store sentinels.
func wrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") {
			err = fmt.Errorf("%w: %s", store.ErrDuplicate, msg)
		}
	}
	return store.NewStoreError("vector", operation, "surrealdb query failed", err)
}
