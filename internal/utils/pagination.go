// Package utils holds tiny cross-layer helpers with no domain knowledge.
// The HTTP layer uses it to parse optional query parameters; nothing here
// may import other internal packages.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as a base-10 integer, tolerating surrounding
// whitespace. Blank or unparsable input yields def, so callers reading
// optional query parameters (page, page_size) never need an error branch:
//
//	page := utils.AtoiDefault(c.Query("page"), 1)
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
