package option

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Operator enumerates comparison operators usable in query conditions.
type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition is a single field comparison applied on top of the example query.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// QuerySortBy describes ordering for Find queries. Allow whitelists the
// sortable columns so caller input cannot inject arbitrary SQL.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// QueryOption mutates the gorm query before execution.
type QueryOption func(tx *gorm.DB) *gorm.DB

// WithSortBy orders the result set. Columns not present in Allow are ignored.
func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if sort.SortBy == "" {
			return tx
		}
		if sort.Allow != nil && !sort.Allow[sort.SortBy] {
			return tx
		}
		order := "ASC"
		if sort.OrderBy == "desc" || sort.OrderBy == "DESC" {
			order = "DESC"
		}
		return tx.Order(fmt.Sprintf("%s %s", sort.SortBy, order))
	}
}

// ApplyOperator adds a comparison condition to the query.
func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	}
}

// WithLimit restricts the number of returned rows.
func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

// WithLockingUpdate takes a row-level lock for the duration of the
// surrounding transaction.
func WithLockingUpdate() QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
}

// LockingUpdate is the scope form of WithLockingUpdate, usable with
// tx.Scopes for every query inside a transaction.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
