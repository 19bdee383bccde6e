package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/panelauth/store"
)

func matchUser(u *store.User, preds []store.Predicate) (bool, error) {
	for _, p := range preds {
		var v any
		switch p.Field {
		case store.FieldUserID:
			v = u.ID
		case store.FieldUsername:
			v = u.Username
		case store.FieldEmail:
			v = u.Email
		case store.FieldIsLocked:
			v = u.IsLocked
		case store.FieldIsDisabled:
			v = u.IsDisabled
		case store.FieldTwoFactor:
			v = u.TwoFactorEnabled
		case store.FieldEmailVerified:
			v = u.EmailVerified
		case store.FieldCreatedAt:
			v = u.CreatedAt
		default:
			return false, fmt.Errorf("%w: users.%s", store.ErrUnsupportedQuery, p.Field)
		}
		ok, err := compare(v, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchActivity(e *store.ActivityEntry, preds []store.Predicate) (bool, error) {
	for _, p := range preds {
		var v any
		switch p.Field {
		case store.FieldUserID:
			v = e.UserID
		case store.FieldAction:
			v = e.Action
		case store.FieldCategory:
			v = e.Category
		case store.FieldSeverity:
			v = e.Severity
		case store.FieldSuccess:
			v = e.Success
		case store.FieldIPAddress:
			v = e.IPAddress
		case store.FieldCreatedAt:
			v = e.CreatedAt
		default:
			return false, fmt.Errorf("%w: activity.%s", store.ErrUnsupportedQuery, p.Field)
		}
		ok, err := compare(v, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func compare(v any, p store.Predicate) (bool, error) {
	switch p.Op {
	case store.OpEq, store.OpNotEq:
		eq := equal(v, p.Value)
		if p.Op == store.OpEq {
			return eq, nil
		}
		return !eq, nil
	case store.OpGTE, store.OpLT:
		a, ok1 := v.(time.Time)
		b, ok2 := p.Value.(time.Time)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("%w: %s needs time operands", store.ErrUnsupportedQuery, p.Op)
		}
		if p.Op == store.OpGTE {
			return !a.Before(b), nil
		}
		return a.Before(b), nil
	case store.OpContains:
		a, ok1 := v.(string)
		b, ok2 := p.Value.(string)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("%w: contains needs text operands", store.ErrUnsupportedQuery)
		}
		return strings.Contains(strings.ToLower(a), strings.ToLower(b)), nil
	default:
		return false, fmt.Errorf("%w: operator %q", store.ErrUnsupportedQuery, p.Op)
	}
}

func equal(a, b any) bool {
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if ok1 && ok2 {
		return strings.EqualFold(as, bs)
	}
	at, ok1 := a.(time.Time)
	bt, ok2 := b.(time.Time)
	if ok1 && ok2 {
		return at.Equal(bt)
	}
	return a == b
}
