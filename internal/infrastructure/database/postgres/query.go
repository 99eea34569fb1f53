package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/devilmonastery/parley/internal/pkg/metrics"
)

const defaultPageSize = 50

// where collects AND-ed conditions with positional arguments. Each cond is a
// format string whose verbs all refer to the argument's position.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	n := len(w.args)
	verbs := strings.Count(cond, "%")
	ns := make([]any, verbs)
	for i := range ns {
		ns[i] = n
	}
	w.conds = append(w.conds, fmt.Sprintf(cond, ns...))
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT and OFFSET placeholders and returns the clause plus the full arg list
func (w *where) page(limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	n := len(w.args)
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", n+1, n+2), append(w.args[:n:n], limit, max(offset, 0))
}

// observe starts timing a repository call; the returned func records it
func observe(repo, operation string) func(rows int64, err error) {
	start := time.Now()
	return func(rows int64, err error) {
		metrics.RecordDBOperation(repo, operation, time.Since(start), rows, err)
	}
}
