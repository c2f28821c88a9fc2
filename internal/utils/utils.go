// Package utils contains general helper functions used across ctxsync.
package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

const pathSegmentSeparator = "/"

var sizeUnits = []string{"b", "kb", "mb", "gb", "tb", "pb"}

// DeduplicatePatterns removes duplicate patterns from a slice while preserving order.
// Blank patterns are dropped and surrounding whitespace is trimmed.
func DeduplicatePatterns(patterns []string) []string {
	encounteredPatterns := make(map[string]struct{}, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if trimmedPattern == "" {
			continue
		}
		if _, exists := encounteredPatterns[trimmedPattern]; exists {
			continue
		}
		encounteredPatterns[trimmedPattern] = struct{}{}
		result = append(result, trimmedPattern)
	}
	return result
}

// RelativeSlashPath returns fullPath relative to root using forward slashes.
// It returns "." when both name the same directory and an error when fullPath
// does not live under root.
func RelativeSlashPath(root string, fullPath string) (string, error) {
	relativePath, relativeError := filepath.Rel(filepath.Clean(root), filepath.Clean(fullPath))
	if relativeError != nil {
		return "", relativeError
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not under %s", fullPath, root)
	}
	return filepath.ToSlash(relativePath), nil
}

// SplitSlashPath splits a forward-slash relative path into its segments.
// The root itself (".") has no segments.
func SplitSlashPath(relativePath string) []string {
	if relativePath == "" || relativePath == "." {
		return nil
	}
	return strings.Split(relativePath, pathSegmentSeparator)
}

// FormatFileSize converts a byte length into a human-readable lower-case unit string.
func FormatFileSize(bytes int64) string {
	if bytes < 1024 {
		if bytes < 0 {
			bytes = 0
		}
		return fmt.Sprintf("%db", bytes)
	}
	value := float64(bytes)
	unitIndex := 0
	for value >= 1024 && unitIndex < len(sizeUnits)-1 {
		value /= 1024
		unitIndex++
	}
	if value >= 10 {
		return fmt.Sprintf("%.0f%s", value, sizeUnits[unitIndex])
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", value), ".0") + sizeUnits[unitIndex]
}
