package core

import "strings"

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// OrderByClause renders orderings as an SQL ORDER BY list.
// Fields not present in columns (json field -> column) are dropped; fallback is used when nothing is left.
func OrderByClause(orderings []DBOrdering, columns map[string]string, fallback string) string {
	parts := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		parts = append(parts, DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(parts) == 0 {
		return fallback
	}
	return strings.Join(parts, ", ")
}
