// Package types provides core types shared across the leadflow engine.
// This package has ZERO dependencies on other leadflow packages to avoid
// circular imports. All other packages should import enums, error codes,
// and context helpers from here.
package types
