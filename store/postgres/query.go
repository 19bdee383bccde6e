package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/panelauth/store"
)

// columnSet maps the filterable fields of one table to SQL expressions.
type columnSet map[store.Field]string

var userColumns = columnSet{
	store.FieldUserID:        "id",
	store.FieldUsername:      "username",
	store.FieldEmail:         "email",
	store.FieldIsLocked:      "is_locked",
	store.FieldIsDisabled:    "is_disabled",
	store.FieldTwoFactor:     "two_factor_enabled",
	store.FieldEmailVerified: "email_verified",
	store.FieldCreatedAt:     "created_at",
}

// Text columns compared case-insensitively, matching the unique indexes.
var foldedColumns = map[string]bool{
	"username": true,
	"email":    true,
}

var activityColumns = columnSet{
	store.FieldUserID:    "user_id",
	store.FieldAction:    "action",
	store.FieldCategory:  "category",
	store.FieldSeverity:  "severity",
	store.FieldSuccess:   "success",
	store.FieldIPAddress: "ip_address",
	store.FieldCreatedAt: "created_at",
}

// buildWhere renders q as a WHERE clause with positional parameters
// starting at $1, followed by ORDER BY, LIMIT and OFFSET.
func buildWhere(cols columnSet, q store.Query) (string, []any, error) {
	var (
		b     strings.Builder
		args  []any
		conds []string
	)

	for _, p := range q.Where {
		col, ok := cols[p.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: field %q", store.ErrUnsupportedQuery, p.Field)
		}
		args = append(args, p.Value)
		ph := "$" + strconv.Itoa(len(args))

		switch p.Op {
		case store.OpEq, store.OpNotEq:
			if foldedColumns[col] {
				conds = append(conds, fmt.Sprintf("lower(%s) %s lower(%s)", col, p.Op, ph))
			} else {
				conds = append(conds, fmt.Sprintf("%s %s %s", col, p.Op, ph))
			}
		case store.OpGTE, store.OpLT:
			conds = append(conds, fmt.Sprintf("%s %s %s", col, p.Op, ph))
		case store.OpContains:
			s, ok := p.Value.(string)
			if !ok {
				return "", nil, fmt.Errorf("%w: contains needs text", store.ErrUnsupportedQuery)
			}
			args[len(args)-1] = "%" + escapeLike(s) + "%"
			conds = append(conds, fmt.Sprintf("%s ILIKE %s", col, ph))
		default:
			return "", nil, fmt.Errorf("%w: operator %q", store.ErrUnsupportedQuery, p.Op)
		}
	}

	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		b.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		b.WriteString(" OFFSET $" + strconv.Itoa(len(args)))
	}

	return b.String(), args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
