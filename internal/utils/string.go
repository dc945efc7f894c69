package utils

import "strings"

// splitPath drops empty segments produced by leading, trailing or doubled
// slashes.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// CleanPath normalizes a filesystem path to its segment form without
// leading or trailing slashes. The root is the empty string.
func CleanPath(path string) string {
	return strings.Join(splitPath(path), "/")
}

// SplitParent splits a cleaned path into its parent and final segment.
func SplitParent(path string) (string, string) {
	path = CleanPath(path)
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
