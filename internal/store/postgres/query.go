package postgres

import (
	"fmt"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// appendListOpts adds the time window, ordering and paging from opts to
// query. timeCol is the column filtered and ordered on (newest first).
func appendListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= %s", timeCol, next(*opts.Since))
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= %s", timeCol, next(*opts.Until))
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)
	if opts.Limit > 0 {
		query += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + next(opts.Offset)
	}
	return query, args
}
