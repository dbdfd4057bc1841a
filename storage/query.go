package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"journal-api/domain"
)

// Query builds OData filter expressions for table queries.
type Query struct {
	parts []string
}

func NewQuery() *Query { return &Query{} }

func (q *Query) Eq(prop string, v any) *Query { return q.cmp(prop, "eq", v) }

func (q *Query) Ne(prop string, v any) *Query { return q.cmp(prop, "ne", v) }

func (q *Query) Ge(prop string, v any) *Query { return q.cmp(prop, "ge", v) }

func (q *Query) Gt(prop string, v any) *Query { return q.cmp(prop, "gt", v) }

func (q *Query) Lt(prop string, v any) *Query { return q.cmp(prop, "lt", v) }

func (q *Query) Le(prop string, v any) *Query { return q.cmp(prop, "le", v) }

func (q *Query) cmp(prop, op string, v any) *Query {
	q.parts = append(q.parts, prop+" "+op+" "+literal(v))
	return q
}

// String joins all conditions with "and".
func (q *Query) String() string {
	return strings.Join(q.parts, " and ")
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10) + "L"
	case time.Time:
		return "datetime'" + formatEdmTime(x) + "'"
	default:
		panic(fmt.Sprintf("storage: unsupported filter literal %T", v))
	}
}

// DayFilter selects the owner's tasks with Start <= CreatedAt < End.
func DayFilter(owner string, r domain.DayRange) string {
	return NewQuery().
		Eq("PartitionKey", owner).
		Ge("CreatedAt", r.Start).
		Lt("CreatedAt", r.End).
		String()
}
