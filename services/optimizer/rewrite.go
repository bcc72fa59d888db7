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
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

// RewriteResult is the output of one rewrite strategy.
type RewriteResult struct {
	Action datatypes.ActionType `json:"action_type"`

	// SQL is the rewritten text, or the input unchanged.
	SQL string `json:"sql"`

	// Changed reports whether SQL differs from the input.
	Changed bool `json:"changed"`

	// Sites counts the places the strategy changed or flagged. Zero means
	// the strategy found nothing to act on.
	Sites int `json:"sites"`

	Notes []string `json:"notes,omitempty"`
}

type strategy func(target, sql string) RewriteResult

var strategies = map[datatypes.ActionType]strategy{
	datatypes.UpdateStatistics:            updateStatistics,
	datatypes.RemoveUnnecessaryDistinct:   removeNestedDistinct,
	datatypes.ConvertExistsToJoin:         detectExists,
	datatypes.ConvertSubqueryToJoin:       detectInSubquery,
	datatypes.FixImplicitConversion:       castComparedColumn,
	datatypes.OptimizeStringConcatenation: concatenate,
	datatypes.RemoveUnnecessarySort:       removeOrderBy,
	datatypes.PrecomputeCalculatedColumns: adviseComputedColumns,
	datatypes.OptimizeTableScans:          adviseTableScans,
}

// Supports reports whether action has a rewrite strategy.
func Supports(action datatypes.ActionType) bool {
	_, ok := strategies[action]
	return ok
}

// Rewrite applies the strategy for action to sql. target is the statistics
// table list for UpdateStatistics and the column (optionally "col AS TYPE")
// for FixImplicitConversion; other strategies ignore it.
//
// Strategies never fail on the text itself: when nothing matches, or the
// text cannot be tokenized safely, the input is returned unchanged with a
// note saying why.
func Rewrite(action datatypes.ActionType, target, sql string) (RewriteResult, error) {
	fn, ok := strategies[action]
	if !ok {
		return RewriteResult{}, &UnsupportedActionError{Action: action}
	}
	res := fn(strings.TrimSpace(target), sql)
	res.Action = action
	return res, nil
}

func unchanged(sql string, format string, args ...any) RewriteResult {
	return RewriteResult{SQL: sql, Notes: []string{fmt.Sprintf(format, args...)}}
}

const unsafeTextNote = "text has an unterminated literal, comment, or parenthesis; left unchanged"

// =============================================================================
// Statistics
// =============================================================================

func updateStatistics(target, sql string) RewriteResult {
	var tables []string
	if target != "" {
		for _, part := range strings.Split(target, ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			if !isPlainName(name) {
				return unchanged(sql, "target %q is not a table name; no statistics statement generated", name)
			}
			tables = append(tables, name)
		}
	} else {
		s := scanSQL(sql)
		if !s.ok {
			return unchanged(sql, unsafeTextNote)
		}
		tables = referencedTables(s)
	}
	if len(tables) == 0 {
		return unchanged(sql, "no referenced tables found; no statistics statement generated")
	}

	var sb strings.Builder
	sb.WriteString("-- Refresh optimizer statistics with a full scan\n")
	for _, t := range tables {
		fmt.Fprintf(&sb, "UPDATE STATISTICS %s WITH FULLSCAN;\n", t)
	}
	return RewriteResult{
		SQL:     sb.String(),
		Changed: true,
		Sites:   len(tables),
		Notes:   []string{fmt.Sprintf("statistics refresh for %s", strings.Join(tables, ", "))},
	}
}

// isPlainName reports whether text is exactly one multi-part name.
func isPlainName(text string) bool {
	s := scanSQL(text)
	if !s.ok || s.n() == 0 {
		return false
	}
	parts, next := s.dottedName(0)
	return parts != nil && next == s.n()
}

// referencedTables lists the names following FROM and JOIN, in order of
// first appearance. Derived tables and table-valued functions are skipped.
func referencedTables(s *sqlText) []string {
	var out []string
	seen := map[string]bool{}
	for i := 0; i < s.n(); i++ {
		if !s.isWord(i, "FROM", "JOIN") {
			continue
		}
		j := i + 1
		for {
			parts, next := s.dottedName(j)
			if parts == nil || s.isSym(next, "(") {
				break
			}
			name := strings.Join(parts, ".")
			if key := strings.ToLower(name); !seen[key] {
				seen[key] = true
				out = append(out, name)
			}

			k := next
			if s.isWord(k, "AS") {
				k += 2
			} else if (s.tok(k).kind == tokWord && !s.isReserved(k)) || s.tok(k).kind == tokQuoted {
				k++
			}
			if s.isWord(k, "WITH") && s.isSym(k+1, "(") {
				if m := s.matching(k + 1); m > 0 {
					k = m + 1
				}
			}
			if s.isWord(i, "FROM") && s.isSym(k, ",") {
				j = k + 1
				continue
			}
			break
		}
	}
	return out
}

// =============================================================================
// DISTINCT removal
// =============================================================================

func removeNestedDistinct(_ string, sql string) RewriteResult {
	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}

	var edits []edit
	var notes []string
	for i := 0; i+1 < s.n(); i++ {
		if !s.isWord(i, "SELECT") || !s.isWord(i+1, "DISTINCT") || s.tok(i).depth == 0 {
			continue
		}
		open := s.opener(i)
		if open < 0 || open+1 != i {
			continue
		}
		if s.isWord(i+2, "TOP") {
			notes = append(notes, fmt.Sprintf("kept DISTINCT at line %d: it combines with TOP", s.line(i+1)))
			continue
		}

		var where string
		switch {
		case s.isWord(open-1, "IN", "EXISTS"):
			where = "IN/EXISTS subquery"
		case s.isWord(open-1, "FROM", "JOIN", "APPLY"):
			outer := s.enclosingSelect(open)
			if outer < 0 || !s.isWord(outer+1, "DISTINCT") || s.levelHas(outer, "GROUP") {
				continue
			}
			where = "derived table under SELECT DISTINCT"
		default:
			continue
		}

		edits = append(edits, edit{start: s.tok(i + 1).start, end: s.trailingSpaceEnd(i + 1)})
		notes = append(notes, fmt.Sprintf("removed DISTINCT from %s at line %d", where, s.line(i+1)))
	}

	if len(edits) == 0 {
		if len(notes) == 0 {
			notes = append(notes, "no redundant nested DISTINCT found")
		}
		return RewriteResult{SQL: sql, Notes: notes}
	}
	return RewriteResult{SQL: applyEdits(sql, edits), Changed: true, Sites: len(edits), Notes: notes}
}

// enclosingSelect returns the SELECT that owns the query level of token i,
// or -1.
func (s *sqlText) enclosingSelect(i int) int {
	d := s.tok(i).depth
	for j := i - 1; j >= 0; j-- {
		t := s.tok(j)
		if s.isSym(j, "(") && t.depth < d {
			return -1
		}
		if t.depth == d && s.isWord(j, "SELECT") {
			return j
		}
	}
	return -1
}

// levelHas reports whether word appears at the query level of token from,
// scanning forward until that level closes.
func (s *sqlText) levelHas(from int, word string) bool {
	d := s.tok(from).depth
	for j := from; j < s.n(); j++ {
		t := s.tok(j)
		if t.depth < d {
			return false
		}
		if t.depth == d && s.isWord(j, word) {
			return true
		}
	}
	return false
}

// =============================================================================
// Detection-only strategies
// =============================================================================

func detectExists(_ string, sql string) RewriteResult {
	return detectSubqueries(sql, "EXISTS", "EXISTS subquery at line %d may be expressible as a JOIN; check that the join cannot multiply rows before rewriting")
}

func detectInSubquery(_ string, sql string) RewriteResult {
	return detectSubqueries(sql, "IN", "IN subquery at line %d may be expressible as a JOIN; NOT IN needs NULL-aware anti-join semantics")
}

func detectSubqueries(sql, keyword, format string) RewriteResult {
	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}
	var notes []string
	for i := 0; i+2 < s.n(); i++ {
		if s.isWord(i, keyword) && s.isSym(i+1, "(") && s.isWord(i+2, "SELECT") {
			notes = append(notes, fmt.Sprintf(format, s.line(i)))
		}
	}
	if len(notes) == 0 {
		return unchanged(sql, "no %s subquery found", keyword)
	}
	return RewriteResult{SQL: sql, Sites: len(notes), Notes: notes}
}

// =============================================================================
// Implicit conversion
// =============================================================================

func castComparedColumn(target, sql string) RewriteResult {
	if target == "" {
		return unchanged(sql, "no column given; pass the converted column as the target")
	}
	column, typ, ok := parseCastTarget(target)
	if !ok {
		return unchanged(sql, "target %q is not of the form column or column AS TYPE", target)
	}

	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}

	var edits []edit
	var notes []string
	for i := 0; i < s.n(); i++ {
		if s.isSym(i-1, ".") {
			continue
		}
		parts, next := s.dottedName(i)
		if parts == nil {
			continue
		}
		if !nameEndsWith(parts, column) || s.isSym(next, "(") || s.alreadyCast(i) {
			i = next - 1
			continue
		}

		lit := -1
		switch {
		case s.isComparison(next) && s.isLiteral(next+1):
			lit = next + 1
		case s.isComparison(i-1) && s.isLiteral(i-2):
			lit = i - 2
		}
		if lit < 0 {
			i = next - 1
			continue
		}

		castType := typ
		if castType == "" {
			castType = literalType(s.tok(lit))
			notes = append(notes, fmt.Sprintf("type %s inferred from literal %s; check it against the column definition", castType, s.tok(lit).text))
		}
		edits = append(edits, edit{
			start: s.tok(i).start,
			end:   s.tok(next - 1).end,
			text:  fmt.Sprintf("CAST(%s AS %s)", s.span(i, next), castType),
		})
		notes = append(notes, fmt.Sprintf("cast %s to %s at line %d", s.span(i, next), castType, s.line(i)))
		i = next - 1
	}

	if len(edits) == 0 {
		return unchanged(sql, "column %s is not compared with a literal outside an explicit cast", strings.Join(column, "."))
	}
	return RewriteResult{SQL: applyEdits(sql, edits), Changed: true, Sites: len(edits), Notes: notes}
}

// parseCastTarget splits "col" or "alias.col AS NVARCHAR(20)" into lowered,
// unquoted name parts and a type.
func parseCastTarget(target string) ([]string, string, bool) {
	s := scanSQL(target)
	if !s.ok || s.n() == 0 {
		return nil, "", false
	}
	parts, next := s.dottedName(0)
	if parts == nil {
		return nil, "", false
	}
	for i := range parts {
		parts[i] = strings.ToLower(unquote(parts[i]))
	}
	if next == s.n() {
		return parts, "", true
	}
	if !s.isWord(next, "AS") || next+1 >= s.n() {
		return nil, "", false
	}
	for j := next + 1; j < s.n(); j++ {
		t := s.tok(j)
		if t.kind != tokWord && t.kind != tokNumber && !s.isSym(j, "(", ")", ",") {
			return nil, "", false
		}
	}
	return parts, strings.TrimSpace(target[s.tok(next+1).start:]), true
}

func nameEndsWith(parts, suffix []string) bool {
	if len(parts) < len(suffix) {
		return false
	}
	off := len(parts) - len(suffix)
	for i, want := range suffix {
		if strings.ToLower(unquote(parts[off+i])) != want {
			return false
		}
	}
	return true
}

func (s *sqlText) alreadyCast(i int) bool {
	if s.isSym(i-1, "(") && s.isWord(i-2, "CAST", "TRY_CAST", "CONVERT", "TRY_CONVERT") {
		return true
	}
	open := s.opener(i)
	return open > 0 && s.isWord(open-1, "CAST", "TRY_CAST", "CONVERT", "TRY_CONVERT")
}

func (s *sqlText) isLiteral(i int) bool {
	k := s.tok(i).kind
	return k == tokString || k == tokNumber
}

// literalType picks a SQL type for a literal. String types use the widest
// non-MAX length so the cast never truncates.
func literalType(t token) string {
	switch t.kind {
	case tokString:
		if t.text[0] == 'N' || t.text[0] == 'n' {
			return "NVARCHAR(4000)"
		}
		return "VARCHAR(8000)"
	case tokNumber:
		if strings.ContainsAny(t.text, "eE") {
			return "FLOAT"
		}
		if dot := strings.IndexByte(t.text, '.'); dot >= 0 {
			scale := len(t.text) - dot - 1
			if scale > 38 {
				scale = 38
			}
			return fmt.Sprintf("DECIMAL(38, %d)", scale)
		}
		if _, err := strconv.ParseInt(t.text, 10, 32); err == nil {
			return "INT"
		}
		return "BIGINT"
	}
	return "SQL_VARIANT"
}

// =============================================================================
// String concatenation
// =============================================================================

// concatenate rewrites a + 'x' + b chains into CONCAT(a, 'x', b). A pass
// only rewrites outermost chains, so it repeats until the text is stable.
func concatenate(_ string, sql string) RewriteResult {
	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}

	out := sql
	var notes []string
	sites := 0
	for pass := 0; pass < 16; pass++ {
		next, n, passNotes := concatOnce(scanSQL(out))
		if n == 0 {
			break
		}
		out = next
		sites += n
		notes = append(notes, passNotes...)
	}

	if sites == 0 {
		return unchanged(sql, "no + concatenation with a string literal found")
	}
	notes = append(notes, "CONCAT treats NULL operands as empty strings where + returned NULL")
	return RewriteResult{SQL: out, Changed: true, Sites: sites, Notes: notes}
}

func concatOnce(s *sqlText) (string, int, []string) {
	var edits []edit
	var notes []string
	i := 0
	for i < s.n() {
		end := s.operandEnd(i)
		if end < 0 {
			i++
			continue
		}
		operands := [][2]int{{i, end}}
		j := end
		for s.isSym(j, "+") {
			e := s.operandEnd(j + 1)
			if e < 0 {
				break
			}
			operands = append(operands, [2]int{j + 1, e})
			j = e
		}

		if len(operands) < 2 || !s.textChain(operands) || !s.chainStartOK(i) || !s.chainEndOK(j) {
			i++
			continue
		}

		args := make([]string, len(operands))
		for k, op := range operands {
			args[k] = s.span(op[0], op[1])
		}
		edits = append(edits, edit{
			start: s.tok(i).start,
			end:   s.tok(j - 1).end,
			text:  "CONCAT(" + strings.Join(args, ", ") + ")",
		})
		notes = append(notes, fmt.Sprintf("replaced %d-part + concatenation at line %d with CONCAT", len(operands), s.line(i)))
		i = j
	}
	return applyEdits(s.src, edits), len(edits), notes
}

// operandEnd returns the index after the concatenation operand starting at
// i, or -1 when none starts there.
func (s *sqlText) operandEnd(i int) int {
	t := s.tok(i)
	switch {
	case t.kind == tokString || t.kind == tokNumber:
		return i + 1
	case s.isSym(i, "("):
		if m := s.matching(i); m > 0 {
			return m + 1
		}
		return -1
	case s.isWord(i, "CASE"):
		nest := 0
		for j := i; j < s.n(); j++ {
			switch {
			case s.isWord(j, "CASE"):
				nest++
			case s.isWord(j, "END"):
				nest--
				if nest == 0 {
					return j + 1
				}
			}
		}
		return -1
	case s.isWord(i, "NULL"):
		return i + 1
	}

	parts, next := s.dottedName(i)
	if parts == nil {
		return -1
	}
	if s.isSym(next, "(") {
		if m := s.matching(next); m > 0 {
			return m + 1
		}
		return -1
	}
	return next
}

// textChain reports whether the operands are certainly string
// concatenation: at least one non-numeric string literal and no number
// literal, which would turn + into addition.
func (s *sqlText) textChain(operands [][2]int) bool {
	text := false
	for _, op := range operands {
		if op[1] != op[0]+1 {
			continue
		}
		t := s.tok(op[0])
		switch t.kind {
		case tokNumber:
			return false
		case tokString:
			if !numericLiteral(t.text) {
				text = true
			}
		}
	}
	return text
}

func numericLiteral(lit string) bool {
	body := strings.TrimLeft(lit, "Nn")
	body = strings.TrimSpace(strings.Trim(body, "'"))
	_, err := strconv.ParseFloat(body, 64)
	return err == nil
}

func (s *sqlText) chainStartOK(i int) bool {
	p := i - 1
	if p < 0 {
		return true
	}
	if s.tok(p).kind == tokSymbol {
		return s.isSym(p, ",", "(") || s.isComparison(p)
	}
	return s.isWord(p, "SELECT", "DISTINCT", "ALL", "THEN", "ELSE", "WHEN", "AND", "OR", "ON", "WHERE", "HAVING", "BY", "LIKE", "RETURN", "NOT")
}

func (s *sqlText) chainEndOK(j int) bool {
	if j >= s.n() {
		return true
	}
	t := s.tok(j)
	switch t.kind {
	case tokSymbol:
		return s.isSym(j, ",", ")", ";") || s.isComparison(j)
	case tokWord:
		return !s.isWord(j, "COLLATE")
	case tokQuoted:
		return true
	}
	return false
}

// =============================================================================
// ORDER BY removal
// =============================================================================

func removeOrderBy(_ string, sql string) RewriteResult {
	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}

	var edits []edit
	var notes []string
	for i := 0; i+1 < s.n(); i++ {
		if !s.isWord(i, "ORDER") || !s.isWord(i+1, "BY") {
			continue
		}
		d := s.tok(i).depth
		segStart := 0
		if d > 0 {
			open := s.opener(i)
			if open < 0 || s.isWord(open-1, "OVER", "GROUP") {
				continue
			}
			segStart = open + 1
		}

		hasSelect, top := false, -1
		for k := segStart; k < i; k++ {
			if s.tok(k).depth != d {
				continue
			}
			if s.isWord(k, "SELECT") {
				hasSelect = true
			}
			if s.isWord(k, "TOP") && top < 0 {
				top = k
			}
		}
		if !hasSelect {
			continue
		}

		end, paged := i+2, false
		for ; end < s.n(); end++ {
			t := s.tok(end)
			if t.depth < d {
				break
			}
			if t.depth > d {
				continue
			}
			if s.isSym(end, ";") || s.isWord(end, "OPTION") {
				break
			}
			if s.isWord(end, "OFFSET", "FOR") {
				paged = true
				break
			}
		}

		switch {
		case top >= 0:
			if s.isTopHundredPercent(top) {
				notes = append(notes, fmt.Sprintf("TOP 100 PERCENT with ORDER BY at line %d does not order view results; remove both by hand", s.line(i)))
			} else {
				notes = append(notes, fmt.Sprintf("kept ORDER BY at line %d: it decides which rows TOP returns", s.line(i)))
			}
			continue
		case paged:
			notes = append(notes, fmt.Sprintf("kept ORDER BY at line %d: it is required by OFFSET or FOR", s.line(i)))
			continue
		}

		start, replacement := s.tok(i).start, ""
		raw := s.sig[i]
		if raw > 0 && s.tokens[raw-1].kind == tokSpace {
			start = s.tokens[raw-1].start
			if raw > 1 && s.tokens[raw-2].kind == tokComment && strings.HasPrefix(s.tokens[raw-2].text, "--") {
				replacement = "\n"
			}
		}
		edits = append(edits, edit{start: start, end: s.tok(end - 1).end, text: replacement})
		notes = append(notes, fmt.Sprintf("removed ORDER BY at line %d", s.line(i)))
	}

	if len(edits) == 0 {
		if len(notes) == 0 {
			notes = append(notes, "no removable ORDER BY found")
		}
		return RewriteResult{SQL: sql, Notes: notes}
	}
	return RewriteResult{SQL: applyEdits(sql, edits), Changed: true, Sites: len(edits), Notes: notes}
}

func (s *sqlText) isTopHundredPercent(top int) bool {
	n := top + 1
	if s.isSym(n, "(") {
		n++
	}
	if s.tok(n).text != "100" {
		return false
	}
	n++
	if s.isSym(n, ")") {
		n++
	}
	return s.isWord(n, "PERCENT")
}

// =============================================================================
// Advisory strategies
// =============================================================================

var computedFunctions = []string{
	"LTRIM", "RTRIM", "TRIM", "UPPER", "LOWER", "SUBSTRING", "LEFT", "RIGHT",
	"REPLACE", "DATEPART", "DATEADD", "DATEDIFF",
}

func adviseComputedColumns(_ string, sql string) RewriteResult {
	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}
	var notes []string
	for i := 0; i < s.n(); i++ {
		if !s.isWord(i, computedFunctions...) || !s.isSym(i+1, "(") || s.isSym(i-1, ".") {
			continue
		}
		m := s.matching(i + 1)
		if m < 0 {
			continue
		}
		expr := s.span(i, m+1)
		if utf8.RuneCountInString(expr) > 80 {
			expr = string([]rune(expr)[:77]) + "..."
		}
		notes = append(notes, fmt.Sprintf("%s at line %d could become a persisted computed column on the base table", expr, s.line(i)))
		i = m
	}
	if len(notes) == 0 {
		return unchanged(sql, "no calculated expressions worth precomputing found")
	}
	return RewriteResult{SQL: sql, Sites: len(notes), Notes: notes}
}

func adviseTableScans(_ string, sql string) RewriteResult {
	s := scanSQL(sql)
	if !s.ok {
		return unchanged(sql, unsafeTextNote)
	}
	tables := referencedTables(s)
	if len(tables) == 0 {
		return unchanged(sql, "no referenced tables found")
	}
	return RewriteResult{
		SQL:   sql,
		Sites: len(tables),
		Notes: []string{
			fmt.Sprintf("tables read by the view: %s", strings.Join(tables, ", ")),
			"review index coverage for the view's predicates and join keys; index changes need DBA approval",
		},
	}
}
