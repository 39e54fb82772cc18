// Package feeders fills configuration structs from YAML files, TOML files and
// environment variables.
package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// AffixedEnvFeeder is a feeder that reads environment variables with a prefix and/or suffix
type AffixedEnvFeeder struct {
	Prefix string
	Suffix string
}

// NewAffixedEnvFeeder creates a new AffixedEnvFeeder with the specified prefix and suffix
func NewAffixedEnvFeeder(prefix, suffix string) AffixedEnvFeeder {
	return AffixedEnvFeeder{Prefix: prefix, Suffix: suffix}
}

// Feed reads environment variables and populates the provided structure
func (f AffixedEnvFeeder) Feed(structure any) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	if f.Prefix == "" && f.Suffix == "" {
		return ErrEnvEmptyPrefixAndSuffix
	}
	return processStructFields(rv.Elem(), strings.ToUpper(f.Prefix), strings.ToUpper(f.Suffix), os.Getenv)
}

// processStructFields iterates through struct fields
func processStructFields(rv reflect.Value, prefix, suffix string, lookup func(string) string) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)
		if !fieldType.IsExported() {
			continue
		}
		if err := processField(field, &fieldType, prefix, suffix, lookup); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// processField handles a single struct field
func processField(field reflect.Value, fieldType *reflect.StructField, prefix, suffix string, lookup func(string) string) error {
	switch field.Kind() {
	case reflect.Struct:
		return processStructFields(field, prefix, suffix, lookup)
	case reflect.Pointer:
		if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			return processStructFields(field.Elem(), prefix, suffix, lookup)
		}
	default:
		if envTag, exists := fieldType.Tag.Lookup("env"); exists {
			return setFieldFromEnv(field, envTag, prefix, suffix, lookup)
		}
	}
	return nil
}

// setFieldFromEnv sets a field value from an environment variable
func setFieldFromEnv(field reflect.Value, envTag, prefix, suffix string, lookup func(string) string) error {
	envName := strings.ToUpper(envTag)
	if prefix != "" {
		envName = prefix + "_" + envName
	}
	if suffix != "" {
		envName = envName + "_" + suffix
	}

	if envValue := lookup(envName); envValue != "" {
		return setFieldValue(field, envValue)
	}
	return nil
}

// setFieldValue converts and sets a field value. Slices take a
// comma-separated list.
func setFieldValue(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return ErrEnvFieldCannotBeSet
	}
	if field.Kind() == reflect.Slice {
		parts := strings.Split(strValue, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, part := range parts {
			v, err := convert(strings.TrimSpace(part), field.Type().Elem())
			if err != nil {
				return err
			}
			slice = reflect.Append(slice, v)
		}
		field.Set(slice)
		return nil
	}
	v, err := convert(strValue, field.Type())
	if err != nil {
		return err
	}
	field.Set(v)
	return nil
}

func convert(strValue string, t reflect.Type) (reflect.Value, error) {
	convertedValue, err := cast.FromType(strValue, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert value to type %v: %w", t, err)
	}
	return reflect.ValueOf(convertedValue).Convert(t), nil
}
