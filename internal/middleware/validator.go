package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

// Input validation and sanitization utilities

// DefaultMaxCodeBytes bounds the size of submitted source code.
const DefaultMaxCodeBytes = 512 << 10

// ValidateSourceCode checks submitted code before it reaches the pipeline.
func ValidateSourceCode(code string, maxBytes int) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: No code provided for analysis", analysis.ErrValidation)
	}
	if maxBytes > 0 && len(code) > maxBytes {
		return fmt.Errorf("%w: code exceeds %d bytes", analysis.ErrValidation, maxBytes)
	}
	if !utf8.ValidString(code) {
		return fmt.Errorf("%w: code is not valid UTF-8", analysis.ErrValidation)
	}
	return nil
}

// SanitizeCode removes null bytes and control characters but keeps line
// structure, so reported line numbers still match what the user submitted.
func SanitizeCode(input string) string {
	input = strings.ReplaceAll(input, "\r\n", "\n")

	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// LimitBody caps request bodies at maxBytes.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
