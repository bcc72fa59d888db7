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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dt "github.com/AleutianAI/viewadvisor/services/orchestrator/datatypes"
)

func rewrite(t *testing.T, action dt.ActionType, target, sql string) RewriteResult {
	t.Helper()
	res, err := Rewrite(action, target, sql)
	require.NoError(t, err)
	require.Equal(t, action, res.Action)
	return res
}

// =============================================================================
// Scanner
// =============================================================================

func TestScanSQL_TokenKinds(t *testing.T) {
	s := scanSQL("SELECT [a]]b], N'it''s' -- note\n/* block */ (1.5e3) <> @v")
	require.True(t, s.ok)

	var kinds []tokenKind
	var texts []string
	for i := 0; i < s.n(); i++ {
		kinds = append(kinds, s.tok(i).kind)
		texts = append(texts, s.tok(i).text)
	}
	assert.Equal(t, []string{"SELECT", "[a]]b]", ",", "N'it''s'", "(", "1.5e3", ")", "<>", "@v"}, texts)
	assert.Equal(t, []tokenKind{tokWord, tokQuoted, tokSymbol, tokString, tokSymbol, tokNumber, tokSymbol, tokSymbol, tokWord}, kinds)
	assert.Equal(t, 0, s.tok(4).depth)
	assert.Equal(t, 1, s.tok(5).depth)
	assert.Equal(t, 0, s.tok(6).depth)
	assert.Equal(t, 6, s.matching(4))
	assert.Equal(t, 4, s.opener(5))
	assert.Equal(t, 2, s.line(4))
}

func TestScanSQL_Unterminated(t *testing.T) {
	for _, sql := range []string{
		"SELECT 'abc FROM t",
		"SELECT [abc FROM t",
		"SELECT 1 /* open",
		"SELECT (1 FROM t",
		"SELECT 1) FROM t",
	} {
		assert.False(t, scanSQL(sql).ok, sql)
	}
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "Order Details", unquote("[Order Details]"))
	assert.Equal(t, "a]b", unquote("[a]]b]"))
	assert.Equal(t, "col", unquote(`"col"`))
	assert.Equal(t, "plain", unquote("plain"))
}

// =============================================================================
// Dispatch
// =============================================================================

func TestRewrite_Unsupported(t *testing.T) {
	for _, action := range []dt.ActionType{dt.ConvertInToJoin, dt.OptimizeStringOperations, "Bogus"} {
		_, err := Rewrite(action, "", "SELECT 1")
		require.Error(t, err, action)
		assert.True(t, errors.Is(err, ErrUnsupportedAction))

		var ue *UnsupportedActionError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, action, ue.Action)
		assert.False(t, Supports(action))
	}
}

func TestRewrite_FailsClosedOnUnsafeText(t *testing.T) {
	sql := "SELECT a FROM t WHERE b IN (SELECT DISTINCT b FROM u WHERE c = 'open)"
	for _, action := range []dt.ActionType{
		dt.RemoveUnnecessaryDistinct,
		dt.RemoveUnnecessarySort,
		dt.OptimizeStringConcatenation,
		dt.ConvertExistsToJoin,
	} {
		res := rewrite(t, action, "", sql)
		assert.False(t, res.Changed, action)
		assert.Equal(t, sql, res.SQL, action)
		assert.Equal(t, []string{unsafeTextNote}, res.Notes, action)
	}
}

// =============================================================================
// UpdateStatistics
// =============================================================================

func TestUpdateStatistics_ExplicitTarget(t *testing.T) {
	res := rewrite(t, dt.UpdateStatistics, "dbo.Orders", "")
	assert.True(t, res.Changed)
	assert.Contains(t, res.SQL, "UPDATE STATISTICS dbo.Orders WITH FULLSCAN;")
	assert.Equal(t, 1, res.Sites)

	res = rewrite(t, dt.UpdateStatistics, "dbo.Orders, [Sales].[Order Lines]", "")
	assert.Contains(t, res.SQL, "UPDATE STATISTICS dbo.Orders WITH FULLSCAN;\n")
	assert.Contains(t, res.SQL, "UPDATE STATISTICS [Sales].[Order Lines] WITH FULLSCAN;\n")
}

func TestUpdateStatistics_RejectsNonNames(t *testing.T) {
	res := rewrite(t, dt.UpdateStatistics, "dbo.Orders; DROP TABLE dbo.Orders", "")
	assert.False(t, res.Changed)
	assert.NotContains(t, res.SQL, "UPDATE STATISTICS")
	assert.Contains(t, res.Notes[0], "is not a table name")
}

func TestUpdateStatistics_FromDefinition(t *testing.T) {
	def := `CREATE VIEW dbo.vOrders AS
SELECT o.OrderID, c.Name
FROM dbo.Orders o
INNER JOIN [dbo].[Customers] AS c ON c.CustomerID = o.CustomerID
LEFT JOIN dbo.Regions r WITH (NOLOCK) ON r.RegionID = c.RegionID
WHERE o.Total > 100`

	res := rewrite(t, dt.UpdateStatistics, "", def)
	require.True(t, res.Changed)
	assert.Equal(t, "-- Refresh optimizer statistics with a full scan\n"+
		"UPDATE STATISTICS dbo.Orders WITH FULLSCAN;\n"+
		"UPDATE STATISTICS [dbo].[Customers] WITH FULLSCAN;\n"+
		"UPDATE STATISTICS dbo.Regions WITH FULLSCAN;\n", res.SQL)
}

func TestReferencedTables(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{"comma list", "SELECT * FROM dbo.A a, dbo.B AS b WHERE a.id = b.id", []string{"dbo.A", "dbo.B"}},
		{"derived table", "SELECT * FROM (SELECT id FROM dbo.C) x JOIN dbo.D d ON d.id = x.id", []string{"dbo.C", "dbo.D"}},
		{"dedupe", "SELECT * FROM dbo.A JOIN DBO.a ON 1 = 1", []string{"dbo.A"}},
		{"table function", "SELECT * FROM dbo.fnRows(1)", nil},
		{"none", "SELECT 1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, referencedTables(scanSQL(tt.sql)))
		})
	}
}

func TestUpdateStatistics_NoTables(t *testing.T) {
	res := rewrite(t, dt.UpdateStatistics, "", "SELECT 1 AS one")
	assert.False(t, res.Changed)
	assert.Equal(t, 0, res.Sites)
	assert.Equal(t, "SELECT 1 AS one", res.SQL)
}

// =============================================================================
// RemoveUnnecessaryDistinct
// =============================================================================

func TestRemoveNestedDistinct(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		changed bool
	}{
		{
			name:    "IN subquery",
			sql:     "SELECT o.OrderID FROM dbo.Orders o WHERE o.CustomerID IN (SELECT DISTINCT c.CustomerID FROM dbo.Customers c)",
			want:    "SELECT o.OrderID FROM dbo.Orders o WHERE o.CustomerID IN (SELECT c.CustomerID FROM dbo.Customers c)",
			changed: true,
		},
		{
			name:    "EXISTS subquery",
			sql:     "SELECT 1 FROM t WHERE EXISTS (SELECT DISTINCT 1 FROM u WHERE u.id = t.id)",
			want:    "SELECT 1 FROM t WHERE EXISTS (SELECT 1 FROM u WHERE u.id = t.id)",
			changed: true,
		},
		{
			name:    "derived table under outer DISTINCT",
			sql:     "SELECT DISTINCT d.Region FROM (SELECT DISTINCT Region, CustomerID FROM dbo.Customers) d",
			want:    "SELECT DISTINCT d.Region FROM (SELECT Region, CustomerID FROM dbo.Customers) d",
			changed: true,
		},
		{
			name: "derived table without outer DISTINCT",
			sql:  "SELECT d.Region FROM (SELECT DISTINCT Region FROM dbo.Customers) d",
			want: "SELECT d.Region FROM (SELECT DISTINCT Region FROM dbo.Customers) d",
		},
		{
			name: "outer query groups",
			sql:  "SELECT DISTINCT d.Region, COUNT(*) FROM (SELECT DISTINCT Region, Id FROM c) d GROUP BY d.Region",
			want: "SELECT DISTINCT d.Region, COUNT(*) FROM (SELECT DISTINCT Region, Id FROM c) d GROUP BY d.Region",
		},
		{
			name: "top-level DISTINCT",
			sql:  "SELECT DISTINCT Region FROM dbo.Customers",
			want: "SELECT DISTINCT Region FROM dbo.Customers",
		},
		{
			name: "scalar subquery",
			sql:  "SELECT (SELECT DISTINCT MAX(x) FROM t) AS m FROM u",
			want: "SELECT (SELECT DISTINCT MAX(x) FROM t) AS m FROM u",
		},
		{
			name: "DISTINCT TOP",
			sql:  "SELECT a FROM t WHERE a IN (SELECT DISTINCT TOP 5 a FROM u)",
			want: "SELECT a FROM t WHERE a IN (SELECT DISTINCT TOP 5 a FROM u)",
		},
		{
			name: "DISTINCT inside a literal",
			sql:  "SELECT 'IN (SELECT DISTINCT x)' AS s",
			want: "SELECT 'IN (SELECT DISTINCT x)' AS s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rewrite(t, dt.RemoveUnnecessaryDistinct, "", tt.sql)
			assert.Equal(t, tt.want, res.SQL)
			assert.Equal(t, tt.changed, res.Changed)
			assert.NotEmpty(t, res.Notes)
		})
	}
}

func TestRemoveNestedDistinct_Idempotent(t *testing.T) {
	sql := `CREATE VIEW dbo.v AS
SELECT DISTINCT d.Region
FROM (SELECT DISTINCT Region, CustomerID FROM dbo.Customers) d
WHERE d.CustomerID IN (SELECT DISTINCT CustomerID FROM dbo.Orders)
  AND EXISTS (SELECT DISTINCT 1 FROM dbo.Payments p WHERE p.CustomerID = d.CustomerID)`

	first := rewrite(t, dt.RemoveUnnecessaryDistinct, "", sql)
	require.True(t, first.Changed)
	assert.Equal(t, 3, first.Sites)
	assert.Equal(t, 1, strings.Count(first.SQL, "DISTINCT"))

	second := rewrite(t, dt.RemoveUnnecessaryDistinct, "", first.SQL)
	assert.False(t, second.Changed)
	assert.Equal(t, first.SQL, second.SQL)
}

// =============================================================================
// RemoveUnnecessarySort
// =============================================================================

func TestRemoveOrderBy(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		changed bool
		note    string
	}{
		{
			name:    "view body",
			sql:     "CREATE VIEW dbo.v AS\nSELECT a, b\nFROM dbo.T\nORDER BY a",
			want:    "CREATE VIEW dbo.v AS\nSELECT a, b\nFROM dbo.T",
			changed: true,
			note:    "removed ORDER BY at line 4",
		},
		{
			name:    "derived table",
			sql:     "SELECT * FROM (SELECT a FROM t ORDER BY a DESC, b) x",
			want:    "SELECT * FROM (SELECT a FROM t) x",
			changed: true,
		},
		{
			name:    "line comment before ORDER BY",
			sql:     "SELECT a FROM (SELECT a FROM t -- inner\nORDER BY a) x",
			want:    "SELECT a FROM (SELECT a FROM t -- inner\n) x",
			changed: true,
		},
		{
			name: "window function",
			sql:  "SELECT ROW_NUMBER() OVER (ORDER BY a) AS rn FROM t",
			want: "SELECT ROW_NUMBER() OVER (ORDER BY a) AS rn FROM t",
			note: "no removable ORDER BY found",
		},
		{
			name: "WITHIN GROUP",
			sql:  "SELECT STRING_AGG(a, ',') WITHIN GROUP (ORDER BY a) FROM t",
			want: "SELECT STRING_AGG(a, ',') WITHIN GROUP (ORDER BY a) FROM t",
		},
		{
			name: "TOP",
			sql:  "SELECT TOP 10 a FROM t ORDER BY a",
			want: "SELECT TOP 10 a FROM t ORDER BY a",
			note: "it decides which rows TOP returns",
		},
		{
			name: "TOP 100 PERCENT",
			sql:  "SELECT TOP (100) PERCENT a FROM t ORDER BY a",
			want: "SELECT TOP (100) PERCENT a FROM t ORDER BY a",
			note: "TOP 100 PERCENT",
		},
		{
			name: "OFFSET",
			sql:  "SELECT a FROM t ORDER BY a OFFSET 10 ROWS",
			want: "SELECT a FROM t ORDER BY a OFFSET 10 ROWS",
			note: "OFFSET or FOR",
		},
		{
			name: "FOR XML",
			sql:  "SELECT a FROM t ORDER BY a FOR XML PATH('')",
			want: "SELECT a FROM t ORDER BY a FOR XML PATH('')",
		},
		{
			name:    "OPTION clause stays",
			sql:     "SELECT a FROM t ORDER BY a OPTION (RECOMPILE)",
			want:    "SELECT a FROM t OPTION (RECOMPILE)",
			changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rewrite(t, dt.RemoveUnnecessarySort, "", tt.sql)
			assert.Equal(t, tt.want, res.SQL)
			assert.Equal(t, tt.changed, res.Changed)
			if tt.note != "" {
				assert.Contains(t, strings.Join(res.Notes, "\n"), tt.note)
			}
		})
	}
}

func TestRemoveOrderBy_Idempotent(t *testing.T) {
	sql := `CREATE VIEW dbo.v AS
SELECT x.a, ROW_NUMBER() OVER (ORDER BY x.a) AS rn
FROM (SELECT a FROM dbo.T ORDER BY a) x
JOIN (SELECT TOP 5 a FROM dbo.U ORDER BY a) y ON y.a = x.a
ORDER BY x.a`

	first := rewrite(t, dt.RemoveUnnecessarySort, "", sql)
	require.True(t, first.Changed)
	assert.Equal(t, 2, first.Sites)
	assert.Equal(t, 2, strings.Count(first.SQL, "ORDER BY"))

	second := rewrite(t, dt.RemoveUnnecessarySort, "", first.SQL)
	assert.False(t, second.Changed)
	assert.Equal(t, first.SQL, second.SQL)
}

// =============================================================================
// FixImplicitConversion
// =============================================================================

func TestCastComparedColumn(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		sql     string
		want    string
		changed bool
	}{
		{
			name:    "explicit type",
			target:  "CustomerCode AS NVARCHAR(20)",
			sql:     "SELECT c.Name FROM dbo.Customers c WHERE c.CustomerCode = N'ABC'",
			want:    "SELECT c.Name FROM dbo.Customers c WHERE CAST(c.CustomerCode AS NVARCHAR(20)) = N'ABC'",
			changed: true,
		},
		{
			name:    "type from varchar literal",
			target:  "[CustomerCode]",
			sql:     "SELECT 1 FROM c WHERE [CustomerCode] <> 'X1'",
			want:    "SELECT 1 FROM c WHERE CAST([CustomerCode] AS VARCHAR(8000)) <> 'X1'",
			changed: true,
		},
		{
			name:    "literal on the left",
			target:  "Qty",
			sql:     "SELECT 1 FROM o WHERE 42 = o.Qty",
			want:    "SELECT 1 FROM o WHERE 42 = CAST(o.Qty AS INT)",
			changed: true,
		},
		{
			name:    "qualified target",
			target:  "o.Amount",
			sql:     "SELECT 1 FROM o JOIN p ON 1 = 1 WHERE o.Amount >= 10.25 AND p.Amount >= 10.25",
			want:    "SELECT 1 FROM o JOIN p ON 1 = 1 WHERE CAST(o.Amount AS DECIMAL(38, 2)) >= 10.25 AND p.Amount >= 10.25",
			changed: true,
		},
		{
			name:   "already cast",
			target: "CustomerCode",
			sql:    "SELECT 1 FROM c WHERE CAST(CustomerCode AS NVARCHAR(20)) = N'A'",
			want:   "SELECT 1 FROM c WHERE CAST(CustomerCode AS NVARCHAR(20)) = N'A'",
		},
		{
			name:   "not compared with a literal",
			target: "CustomerCode",
			sql:    "SELECT CustomerCode FROM c WHERE CustomerCode = OtherCode",
			want:   "SELECT CustomerCode FROM c WHERE CustomerCode = OtherCode",
		},
		{
			name:   "no target",
			target: "",
			sql:    "SELECT 1 FROM c WHERE Code = 'x'",
			want:   "SELECT 1 FROM c WHERE Code = 'x'",
		},
		{
			name:   "malformed target",
			target: "Code; DROP TABLE c",
			sql:    "SELECT 1 FROM c WHERE Code = 'x'",
			want:   "SELECT 1 FROM c WHERE Code = 'x'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rewrite(t, dt.FixImplicitConversion, tt.target, tt.sql)
			assert.Equal(t, tt.want, res.SQL)
			assert.Equal(t, tt.changed, res.Changed)
			assert.NotEmpty(t, res.Notes)
		})
	}
}

func TestCastComparedColumn_Idempotent(t *testing.T) {
	sql := "SELECT 1 FROM c WHERE c.Code = N'A' OR c.Code = N'B'"
	first := rewrite(t, dt.FixImplicitConversion, "Code AS NVARCHAR(10)", sql)
	require.True(t, first.Changed)
	assert.Equal(t, 2, first.Sites)

	second := rewrite(t, dt.FixImplicitConversion, "Code AS NVARCHAR(10)", first.SQL)
	assert.False(t, second.Changed)
	assert.Equal(t, first.SQL, second.SQL)
}

func TestLiteralType(t *testing.T) {
	tests := map[string]string{
		"N'abc'":     "NVARCHAR(4000)",
		"'abc'":      "VARCHAR(8000)",
		"7":          "INT",
		"3000000000": "BIGINT",
		"12.500":     "DECIMAL(38, 3)",
		"1e5":        "FLOAT",
	}
	for lit, want := range tests {
		s := scanSQL(lit)
		require.Equal(t, 1, s.n(), lit)
		assert.Equal(t, want, literalType(s.tok(0)), lit)
	}
}

// =============================================================================
// OptimizeStringConcatenation
// =============================================================================

func TestConcatenate(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    string
		changed bool
	}{
		{
			name:    "select item",
			sql:     "SELECT c.FirstName + ' ' + c.LastName AS FullName, c.Id FROM dbo.Customers c",
			want:    "SELECT CONCAT(c.FirstName, ' ', c.LastName) AS FullName, c.Id FROM dbo.Customers c",
			changed: true,
		},
		{
			name:    "function operands",
			sql:     "SELECT Label = LTRIM(a) + N'-' + CAST(b AS NVARCHAR(10)) FROM t",
			want:    "SELECT Label = CONCAT(LTRIM(a), N'-', CAST(b AS NVARCHAR(10))) FROM t",
			changed: true,
		},
		{
			name: "numeric addition",
			sql:  "SELECT a + 1 FROM t",
			want: "SELECT a + 1 FROM t",
		},
		{
			name: "numeric literal",
			sql:  "SELECT '1' + 2 FROM t",
			want: "SELECT '1' + 2 FROM t",
		},
		{
			name: "mixed arithmetic",
			sql:  "SELECT x * a + 'b' FROM t",
			want: "SELECT x * a + 'b' FROM t",
		},
		{
			name: "collation",
			sql:  "SELECT a + 'b' COLLATE Latin1_General_CI_AS FROM t",
			want: "SELECT a + 'b' COLLATE Latin1_General_CI_AS FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := rewrite(t, dt.OptimizeStringConcatenation, "", tt.sql)
			assert.Equal(t, tt.want, res.SQL)
			assert.Equal(t, tt.changed, res.Changed)
		})
	}
}

func TestConcatenate_NestedReachesFixpoint(t *testing.T) {
	sql := "SELECT 'p' + (a + 'x') FROM t"
	first := rewrite(t, dt.OptimizeStringConcatenation, "", sql)
	require.True(t, first.Changed)
	assert.Equal(t, "SELECT CONCAT('p', (CONCAT(a, 'x'))) FROM t", first.SQL)
	assert.Equal(t, 2, first.Sites)

	second := rewrite(t, dt.OptimizeStringConcatenation, "", first.SQL)
	assert.False(t, second.Changed)
	assert.Equal(t, first.SQL, second.SQL)
}

// =============================================================================
// Detection-only and advisory strategies
// =============================================================================

func TestDetectionOnly(t *testing.T) {
	sql := "SELECT a FROM t\nWHERE EXISTS (SELECT 1 FROM u WHERE u.id = t.id)\n  AND t.b NOT IN (SELECT b FROM w)"

	exists := rewrite(t, dt.ConvertExistsToJoin, "", sql)
	assert.False(t, exists.Changed)
	assert.Equal(t, sql, exists.SQL)
	assert.Equal(t, 1, exists.Sites)
	assert.Contains(t, exists.Notes[0], "EXISTS subquery at line 2")

	in := rewrite(t, dt.ConvertSubqueryToJoin, "", sql)
	assert.False(t, in.Changed)
	assert.Equal(t, 1, in.Sites)
	assert.Contains(t, in.Notes[0], "IN subquery at line 3")

	none := rewrite(t, dt.ConvertExistsToJoin, "", "SELECT 1")
	assert.Equal(t, 0, none.Sites)
	assert.Equal(t, []string{"no EXISTS subquery found"}, none.Notes)
}

func TestAdvisoryStrategies(t *testing.T) {
	sql := "SELECT LTRIM(RTRIM(c.Name)) AS n, UPPER(c.Code) FROM dbo.Customers c LEFT JOIN dbo.Orders o ON o.cid = c.id"

	pre := rewrite(t, dt.PrecomputeCalculatedColumns, "", sql)
	assert.False(t, pre.Changed)
	assert.Equal(t, sql, pre.SQL)
	require.Len(t, pre.Notes, 2)
	assert.Contains(t, pre.Notes[0], "LTRIM(RTRIM(c.Name))")
	assert.Contains(t, pre.Notes[1], "UPPER(c.Code)")

	scans := rewrite(t, dt.OptimizeTableScans, "", sql)
	assert.False(t, scans.Changed)
	assert.Equal(t, 2, scans.Sites)
	assert.Contains(t, scans.Notes[0], "dbo.Customers, dbo.Orders")
}

// =============================================================================
// ALTER VIEW normalization
// =============================================================================

func TestNormalizeAlterView(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CREATE VIEW dbo.v AS SELECT 1", "ALTER VIEW dbo.v AS SELECT 1"},
		{"create or alter view dbo.v as select 1", "ALTER VIEW dbo.v as select 1"},
		{"-- header\nCREATE VIEW dbo.v AS SELECT 1", "-- header\nALTER VIEW dbo.v AS SELECT 1"},
		{"ALTER VIEW dbo.v AS SELECT 1", "ALTER VIEW dbo.v AS SELECT 1"},
		{"\nSELECT 1\n", "ALTER VIEW dbo.v AS\nSELECT 1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAlterView("dbo.v", tt.in))
	}
}
