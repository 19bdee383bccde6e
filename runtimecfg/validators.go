package runtimecfg

import "fmt"

// PositiveInt rejects integers below 1.
func PositiveInt(v any) error {
	n, ok := v.(int)
	if !ok || n <= 0 {
		return fmt.Errorf("%w: must be a positive integer", ErrInvalidValue)
	}
	return nil
}

// NonNegativeInt rejects integers below 0.
func NonNegativeInt(v any) error {
	n, ok := v.(int)
	if !ok || n < 0 {
		return fmt.Errorf("%w: must not be negative", ErrInvalidValue)
	}
	return nil
}

// IntRange accepts integers in [min, max].
func IntRange(min, max int) func(any) error {
	return func(v any) error {
		n, ok := v.(int)
		if !ok || n < min || n > max {
			return fmt.Errorf("%w: must be between %d and %d", ErrInvalidValue, min, max)
		}
		return nil
	}
}
