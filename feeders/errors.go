package feeders

import "errors"

// File feeder errors
var (
	ErrFileRead   = errors.New("cannot read config file")
	ErrYamlDecode = errors.New("invalid yaml")
	ErrTomlDecode = errors.New("invalid toml")
	ErrJSONDecode = errors.New("invalid json")
)

// Env feeder errors
var (
	ErrEnvInvalidStructure     = errors.New("env: invalid structure")
	ErrEnvEmptyPrefixAndSuffix = errors.New("env: prefix or suffix cannot be empty")
	ErrEnvFieldCannotBeSet     = errors.New("env: field cannot be set")
	ErrDotEnvInvalidLine       = errors.New("dotenv: invalid line format")
)
