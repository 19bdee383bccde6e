package runtimecfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/panelauth/internal/logging"
	"github.com/MrEthical07/panelauth/store"
)

var (
	ErrUnknownKey   = errors.New("runtimecfg: unknown key")
	ErrDuplicateKey = errors.New("runtimecfg: key already registered")
	ErrNotEditable  = errors.New("runtimecfg: key is not editable")
	ErrInvalidValue = errors.New("runtimecfg: invalid value")
	ErrTypeMismatch = errors.New("runtimecfg: type mismatch")
	ErrUnavailable  = errors.New("runtimecfg: backend unavailable")
)

// Type is the value type of a setting.
type Type string

const (
	TypeInt    Type = "number"
	TypeBool   Type = "boolean"
	TypeString Type = "string"
	TypeJSON   Type = "json"
)

// Definition describes one setting. Default must already have the Go type
// matching Type: int, bool, string, or any JSON-encodable value.
type Definition struct {
	Key         string
	Default     any
	Type        Type
	Category    string
	Description string
	// ReadOnly settings are listed but cannot be changed at runtime.
	ReadOnly  bool
	Validator func(v any) error
}

// Editable reports whether Set and Reset accept the key.
func (d Definition) Editable() bool { return !d.ReadOnly }

// Setting is a definition together with its effective value.
type Setting struct {
	Definition
	Value     any
	IsDefault bool
	UpdatedAt *time.Time
	UpdatedBy string
}

// Registry resolves settings against persisted overrides.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]Definition
	backend store.ConfigValues
	log     logging.Logger
	now     func() time.Time
}

// New creates an empty Registry. A nil backend serves defaults only.
func New(backend store.ConfigValues, log logging.Logger) *Registry {
	return &Registry{
		defs:    make(map[string]Definition),
		backend: backend,
		log:     logging.OrNop(log),
		now:     time.Now,
	}
}

// Register adds a definition. The default must pass the validator.
func (r *Registry) Register(def Definition) error {
	if def.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidValue)
	}
	v, err := normalize(def.Type, def.Default)
	if err != nil {
		return fmt.Errorf("default for %s: %w", def.Key, err)
	}
	def.Default = v
	if def.Validator != nil {
		if err := def.Validator(v); err != nil {
			return fmt.Errorf("default for %s: %w", def.Key, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, def.Key)
	}
	r.defs[def.Key] = def
	return nil
}

// MustRegister is Register for static definition tables.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the definition of key.
func (r *Registry) Lookup(key string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[key]
	return d, ok
}

// Get returns the effective value of key: the persisted override when one
// exists and decodes cleanly, otherwise the default.
func (r *Registry) Get(ctx context.Context, key string) (any, error) {
	def, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if r.backend == nil {
		return def.Default, nil
	}

	row, err := r.backend.ConfigValue(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return def.Default, nil
	case err != nil:
		r.log.Error(ctx, "config lookup failed, using default", "key", key, "error", err)
		return def.Default, nil
	}

	v, err := decode(def.Type, row.Value)
	if err != nil {
		r.log.Warn(ctx, "stored config value is malformed, using default", "key", key, "error", err)
		return def.Default, nil
	}
	return v, nil
}

// Int returns the integer value of key.
func (r *Registry) Int(ctx context.Context, key string) (int, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %s is %T", ErrTypeMismatch, key, v)
	}
	return n, nil
}

// Bool returns the boolean value of key.
func (r *Registry) Bool(ctx context.Context, key string) (bool, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is %T", ErrTypeMismatch, key, v)
	}
	return b, nil
}

// String returns the string value of key.
func (r *Registry) String(ctx context.Context, key string) (string, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T", ErrTypeMismatch, key, v)
	}
	return s, nil
}

// Duration returns an integer setting multiplied by unit, e.g.
// Duration(ctx, "x.window_minutes", time.Minute).
func (r *Registry) Duration(ctx context.Context, key string, unit time.Duration) (time.Duration, error) {
	n, err := r.Int(ctx, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

// Set validates and persists an override. Numbers arriving as float64 or
// strings (from JSON or form input) are coerced to int when integral.
func (r *Registry) Set(ctx context.Context, key string, value any, updatedBy string) error {
	def, ok := r.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if !def.Editable() {
		return fmt.Errorf("%w: %s", ErrNotEditable, key)
	}

	v, err := normalize(def.Type, value)
	if err != nil {
		return err
	}
	if def.Validator != nil {
		if err := def.Validator(v); err != nil {
			return err
		}
	}
	if r.backend == nil {
		return fmt.Errorf("%w: no backend", ErrUnavailable)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	err = r.backend.PutConfigValue(ctx, store.ConfigValue{
		Key:       key,
		Value:     raw,
		UpdatedAt: r.now().UTC(),
		UpdatedBy: updatedBy,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Reset removes the override so the default applies again.
func (r *Registry) Reset(ctx context.Context, key string) error {
	def, ok := r.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if !def.Editable() {
		return fmt.Errorf("%w: %s", ErrNotEditable, key)
	}
	if r.backend == nil {
		return nil
	}
	if err := r.backend.DeleteConfigValue(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Definitions lists every registered setting with its effective value,
// ordered by category then key.
func (r *Registry) Definitions(ctx context.Context) ([]Setting, error) {
	overrides := map[string]store.ConfigValue{}
	if r.backend != nil {
		rows, err := r.backend.ListConfigValues(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		for _, row := range rows {
			overrides[row.Key] = row
		}
	}

	r.mu.RLock()
	out := make([]Setting, 0, len(r.defs))
	for _, def := range r.defs {
		s := Setting{Definition: def, Value: def.Default, IsDefault: true}
		if row, ok := overrides[def.Key]; ok {
			if v, err := decode(def.Type, row.Value); err == nil {
				at := row.UpdatedAt
				s.Value = v
				s.IsDefault = equalValue(v, def.Default)
				s.UpdatedAt = &at
				s.UpdatedBy = row.UpdatedBy
			}
		}
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func normalize(t Type, v any) (any, error) {
	switch t {
	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) || math.IsInf(n, 0) {
				return nil, fmt.Errorf("%w: must be a whole number", ErrInvalidValue)
			}
			return int(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: must be a whole number", ErrInvalidValue)
			}
			return int(i), nil
		case string:
			i, err := strconv.Atoi(n)
			if err != nil {
				return nil, fmt.Errorf("%w: must be a whole number", ErrInvalidValue)
			}
			return i, nil
		}
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			p, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: must be true or false", ErrInvalidValue)
			}
			return p, nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeJSON:
		if _, err := json.Marshal(v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidValue, t)
	}
	return nil, fmt.Errorf("%w: expected %s, got %T", ErrInvalidValue, t, v)
}

func decode(t Type, raw []byte) (any, error) {
	switch t {
	case TypeInt:
		var n int
		err := json.Unmarshal(raw, &n)
		return n, err
	case TypeBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case TypeString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	default:
		var v any
		err := json.Unmarshal(raw, &v)
		return v, err
	}
}

func equalValue(a, b any) bool {
	ra, err1 := json.Marshal(a)
	rb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(ra) == string(rb)
}
