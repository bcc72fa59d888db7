// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dbgateway

import (
	"fmt"
	"strings"
	"unicode"
)

// maxNameParts is server.database.schema.object.
const maxNameParts = 4

// QuoteObjectName splits a possibly bracketed, dotted object name and
// returns it with every part bracket-quoted, e.g. dbo.vOrders becomes
// [dbo].[vOrders]. Names with empty parts, more than four parts, control
// characters or unbalanced brackets are rejected with ErrInvalidName.
func QuoteObjectName(name string) (string, error) {
	parts, err := splitObjectName(strings.TrimSpace(name))
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "[" + strings.ReplaceAll(p, "]", "]]") + "]"
	}
	return strings.Join(quoted, "."), nil
}

func splitObjectName(name string) ([]string, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidName)
	}

	var parts []string
	var cur strings.Builder
	bracketed := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '[' && cur.Len() == 0 && !bracketed:
			start := i + 1
			for {
				j := strings.IndexByte(name[start:], ']')
				if j < 0 {
					return nil, fmt.Errorf("%w: unbalanced brackets in %q", ErrInvalidName, name)
				}
				end := start + j
				cur.WriteString(name[start:end])
				if end+1 < len(name) && name[end+1] == ']' {
					cur.WriteByte(']')
					start = end + 2
					continue
				}
				i = end
				break
			}
			bracketed = true
		case c == '.':
			parts = append(parts, cur.String())
			cur.Reset()
			bracketed = false
		case bracketed:
			return nil, fmt.Errorf("%w: text after closing bracket in %q", ErrInvalidName, name)
		case c == '[' || c == ']':
			return nil, fmt.Errorf("%w: unbalanced brackets in %q", ErrInvalidName, name)
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())

	if len(parts) > maxNameParts {
		return nil, fmt.Errorf("%w: %q has more than %d parts", ErrInvalidName, name, maxNameParts)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: empty part in %q", ErrInvalidName, name)
		}
		if strings.IndexFunc(p, unicode.IsControl) >= 0 {
			return nil, fmt.Errorf("%w: control character in %q", ErrInvalidName, name)
		}
	}
	return parts, nil
}
