package model

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/golobby/cast"
)

var ErrNoCodec = errors.New("model: type has no string codec")

// Encode renders an attribute value as text.
func Encode(v reflect.Value) (string, error) {
	t := v.Type()
	if !IsAttribute(t) {
		return "", fmt.Errorf("%w: %s", ErrNoCodec, t)
	}
	switch t {
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339Nano), nil
	case durationType:
		return v.Interface().(time.Duration).String(), nil
	}
	if m, ok := v.Interface().(encoding.TextMarshaler); ok {
		b, err := m.MarshalText()
		return string(b), err
	}
	return fmt.Sprint(v.Interface()), nil
}

// Decode parses text into a value of type t.
func Decode(s string, t reflect.Type) (reflect.Value, error) {
	if !IsAttribute(t) {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrNoCodec, t)
	}
	switch t {
	case timeType:
		tm, err := time.Parse(time.RFC3339Nano, s)
		return reflect.ValueOf(tm), err
	case durationType:
		d, err := time.ParseDuration(s)
		return reflect.ValueOf(d), err
	}
	if reflect.PointerTo(t).Implements(textUnmarshalerPt) {
		v := reflect.New(t)
		if err := v.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return reflect.Value{}, err
		}
		return v.Elem(), nil
	}
	raw, err := cast.FromType(s, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("model: cannot decode %q as %s: %w", s, t, err)
	}
	return reflect.ValueOf(raw).Convert(t), nil
}
