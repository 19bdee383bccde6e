package store

import (
	"fmt"
	"time"
)

// Field names a filterable column. Adapters translate a Field to their own
// column naming and must reject fields they do not know.
type Field string

const (
	FieldUserID        Field = "user_id"
	FieldUsername      Field = "username"
	FieldEmail         Field = "email"
	FieldIsLocked      Field = "is_locked"
	FieldIsDisabled    Field = "is_disabled"
	FieldTwoFactor     Field = "two_factor_enabled"
	FieldEmailVerified Field = "email_verified"
	FieldAction        Field = "action"
	FieldCategory      Field = "category"
	FieldSeverity      Field = "severity"
	FieldSuccess       Field = "success"
	FieldIPAddress     Field = "ip_address"
	FieldCreatedAt     Field = "created_at"
)

// Op is a comparison operator.
type Op string

const (
	OpEq       Op = "="
	OpNotEq    Op = "<>"
	OpGTE      Op = ">="
	OpLT       Op = "<"
	OpContains Op = "contains"
)

// Predicate is one typed condition. A Query is the conjunction of its
// predicates.
type Predicate struct {
	Field Field
	Op    Op
	Value any
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
}

// Eq matches rows whose field equals v.
func Eq(f Field, v any) Predicate { return Predicate{Field: f, Op: OpEq, Value: v} }

// NotEq matches rows whose field differs from v.
func NotEq(f Field, v any) Predicate { return Predicate{Field: f, Op: OpNotEq, Value: v} }

// Since matches rows whose time field is at or after t.
func Since(f Field, t time.Time) Predicate { return Predicate{Field: f, Op: OpGTE, Value: t} }

// Before matches rows whose time field is strictly before t.
func Before(f Field, t time.Time) Predicate { return Predicate{Field: f, Op: OpLT, Value: t} }

// Contains matches rows whose text field contains s, case-insensitively.
func Contains(f Field, s string) Predicate { return Predicate{Field: f, Op: OpContains, Value: s} }

// Query is a filter plus paging. Results are ordered newest first.
type Query struct {
	Where  []Predicate
	Limit  int
	Offset int
}

// Where starts a Query from a list of predicates, skipping zero values so
// callers can pass optional filters unconditionally.
func Where(preds ...Predicate) Query {
	q := Query{}
	for _, p := range preds {
		if p.Field == "" {
			continue
		}
		q.Where = append(q.Where, p)
	}
	return q
}

// Page sets the limit and offset.
func (q Query) Page(limit, offset int) Query {
	q.Limit = limit
	q.Offset = offset
	return q
}

// When returns p if cond holds and the zero Predicate otherwise; Where
// drops zero predicates.
func When(cond bool, p Predicate) Predicate {
	if !cond {
		return Predicate{}
	}
	return p
}
