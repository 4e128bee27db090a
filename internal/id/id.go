// Package id generates prefixed identifiers such as "doc-V1StGXR8_Z5jdHi6B-myT".
package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	PrefixDocument = "doc"
	PrefixJob      = "job"
)

// Generate returns prefix + "-" + a 21 character nanoid.
func Generate(prefix string) (string, error) {
	s, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + s, nil
}

// MustGenerate is Generate that panics when the system has no entropy.
func MustGenerate(prefix string) string {
	s, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return s
}
