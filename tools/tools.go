//go:build tools

// Package tools pins the oapi-codegen generator next to the
// github.com/oapi-codegen/runtime binder used by internal/infra/api,
// so both resolve to matching versions in go.mod.
package tools

import (
	_ "github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen"
)
