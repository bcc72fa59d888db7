// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimizer

import (
	"sort"
	"strings"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // identifiers, keywords, @variables
	tokQuoted                  // [bracketed] or "double quoted" identifiers
	tokString                  // 'literal' or N'literal'
	tokNumber
	tokSymbol
	tokComment
	tokSpace
)

// token is a lexical unit of T-SQL text. depth is the parenthesis depth
// outside the token; a matching pair of parentheses shares one depth.
type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
	depth int
}

// sqlText is T-SQL split into tokens. Strategies work on the significant
// tokens (everything except whitespace and comments) and edit the source
// by byte offset, so untouched text keeps its exact formatting.
type sqlText struct {
	src    string
	tokens []token
	sig    []int

	// ok is false when a literal, bracket, comment, or parenthesis group is
	// left open. Strategies refuse to edit such text.
	ok bool
}

func scanSQL(src string) *sqlText {
	s := &sqlText{src: src, ok: true}
	depth := 0
	i := 0
	for i < len(src) {
		c := src[i]
		start := i
		kind := tokSymbol
		tokDepth := depth

		switch {
		case isSpace(c):
			for i < len(src) && isSpace(src[i]) {
				i++
			}
			kind = tokSpace
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			kind = tokComment
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
				s.ok = false
			} else {
				i += end + 4
			}
			kind = tokComment
		case c == '\'' || ((c == 'N' || c == 'n') && i+1 < len(src) && src[i+1] == '\''):
			if c != '\'' {
				i++
			}
			i = s.scanDelimited(i, '\'')
			kind = tokString
		case c == '[':
			i = s.scanDelimited(i, ']')
			kind = tokQuoted
		case c == '"':
			i = s.scanDelimited(i, '"')
			kind = tokQuoted
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			kind = tokNumber
		case isWordStart(c):
			for i < len(src) && isWordPart(src[i]) {
				i++
			}
			kind = tokWord
		case c == '(':
			i++
			depth++
		case c == ')':
			i++
			depth--
			if depth < 0 {
				s.ok = false
				depth = 0
			}
			tokDepth = depth
		case strings.IndexByte("<>!=", c) >= 0:
			i++
			if i < len(src) && strings.IndexByte("<>=", src[i]) >= 0 {
				i++
			}
		default:
			i++
		}

		s.tokens = append(s.tokens, token{kind: kind, text: src[start:i], start: start, end: i, depth: tokDepth})
		if kind != tokSpace && kind != tokComment {
			s.sig = append(s.sig, len(s.tokens)-1)
		}
	}
	if depth != 0 {
		s.ok = false
	}
	return s
}

// scanDelimited consumes a quoted run starting at the opening delimiter at
// i. A doubled closing delimiter is an escape.
func (s *sqlText) scanDelimited(i int, closing byte) int {
	j := i + 1
	for j < len(s.src) {
		if s.src[j] == closing {
			if j+1 < len(s.src) && s.src[j+1] == closing {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	s.ok = false
	return len(s.src)
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '@' || c == '#' || c >= 0x80
}

func isWordPart(c byte) bool { return isWordStart(c) || isDigit(c) || c == '$' }

// n is the number of significant tokens.
func (s *sqlText) n() int { return len(s.sig) }

// tok returns significant token i, or a zero token when out of range.
func (s *sqlText) tok(i int) token {
	if i < 0 || i >= len(s.sig) {
		return token{kind: tokSpace, depth: -1}
	}
	return s.tokens[s.sig[i]]
}

func (s *sqlText) isWord(i int, words ...string) bool {
	t := s.tok(i)
	if t.kind != tokWord {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (s *sqlText) isSym(i int, syms ...string) bool {
	t := s.tok(i)
	if t.kind != tokSymbol {
		return false
	}
	for _, sym := range syms {
		if t.text == sym {
			return true
		}
	}
	return false
}

func (s *sqlText) isComparison(i int) bool {
	return s.isSym(i, "=", "<>", "!=", "<", ">", "<=", ">=", "!<", "!>")
}

// span returns the source text covering significant tokens [from, to).
func (s *sqlText) span(from, to int) string {
	if from >= to {
		return ""
	}
	return s.src[s.tok(from).start:s.tok(to-1).end]
}

// line returns the 1-based source line of significant token i.
func (s *sqlText) line(i int) int {
	return strings.Count(s.src[:s.tok(i).start], "\n") + 1
}

// matching returns the index of the ')' closing the '(' at i, or -1.
func (s *sqlText) matching(i int) int {
	if !s.isSym(i, "(") {
		return -1
	}
	d := s.tok(i).depth
	for j := i + 1; j < s.n(); j++ {
		if s.isSym(j, ")") && s.tok(j).depth == d {
			return j
		}
	}
	return -1
}

// opener returns the index of the '(' enclosing token i, or -1 at depth 0.
func (s *sqlText) opener(i int) int {
	d := s.tok(i).depth
	if s.isSym(i, ")") {
		d++
	}
	if d <= 0 {
		return -1
	}
	for j := i - 1; j >= 0; j-- {
		if s.isSym(j, "(") && s.tok(j).depth == d-1 {
			return j
		}
	}
	return -1
}

var reservedWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`SELECT FROM WHERE JOIN ON AS AND OR NOT IN EXISTS INNER LEFT
		RIGHT FULL OUTER CROSS APPLY GROUP ORDER BY HAVING UNION ALL DISTINCT TOP WITH CASE WHEN
		THEN ELSE END NULL IS LIKE BETWEEN OVER PARTITION OPTION FOR OFFSET FETCH INTO VALUES SET
		CREATE ALTER VIEW EXCEPT INTERSECT PIVOT UNPIVOT TABLESAMPLE COLLATE ESCAPE PERCENT`) {
		reservedWords[w] = true
	}
}

func (s *sqlText) isReserved(i int) bool {
	t := s.tok(i)
	return t.kind == tokWord && reservedWords[strings.ToUpper(t.text)]
}

// dottedName reads a multi-part name such as [dbo].Orders starting at i.
// It returns the name's parts and the index after the name, or nil parts
// when no name starts at i.
func (s *sqlText) dottedName(i int) ([]string, int) {
	var parts []string
	j := i
	for {
		t := s.tok(j)
		if !(t.kind == tokWord && !s.isReserved(j)) && t.kind != tokQuoted {
			return nil, i
		}
		parts = append(parts, t.text)
		j++
		if !s.isSym(j, ".") {
			return parts, j
		}
		j++
	}
}

// unquote strips [] or "" from an identifier part.
func unquote(part string) string {
	if len(part) >= 2 {
		switch {
		case part[0] == '[' && part[len(part)-1] == ']':
			return strings.ReplaceAll(part[1:len(part)-1], "]]", "]")
		case part[0] == '"' && part[len(part)-1] == '"':
			return strings.ReplaceAll(part[1:len(part)-1], `""`, `"`)
		}
	}
	return part
}

// edit replaces src[start:end] with text.
type edit struct {
	start int
	end   int
	text  string
}

// applyEdits splices non-overlapping edits into src.
func applyEdits(src string, edits []edit) string {
	if len(edits) == 0 {
		return src
	}
	sort.Slice(edits, func(a, b int) bool { return edits[a].start < edits[b].start })

	var sb strings.Builder
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			continue
		}
		sb.WriteString(src[pos:e.start])
		sb.WriteString(e.text)
		pos = e.end
	}
	sb.WriteString(src[pos:])
	return sb.String()
}

// trailingSpaceEnd returns the end offset of significant token i extended
// over the whitespace that directly follows it.
func (s *sqlText) trailingSpaceEnd(i int) int {
	raw := s.sig[i]
	end := s.tokens[raw].end
	if raw+1 < len(s.tokens) && s.tokens[raw+1].kind == tokSpace {
		end = s.tokens[raw+1].end
	}
	return end
}
