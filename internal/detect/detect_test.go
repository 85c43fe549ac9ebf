package detect

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/painreview/internal/parser"
	"github.com/painreview/pkg/models"
)

func parse(t *testing.T, source, hint string) *parser.Tree {
	t.Helper()
	svc := parser.NewService(5 * time.Second)
	tree, failure := svc.Parse(context.Background(), []byte(source), hint)
	require.Nil(t, failure, "source must parse cleanly")
	t.Cleanup(tree.Close)
	return tree
}

func kinds(violations []models.Violation) []models.ViolationKind {
	out := make([]models.ViolationKind, len(violations))
	for i, v := range violations {
		out[i] = v.Kind
	}
	return out
}

func TestDebugOutputDetector(t *testing.T) {
	d := debugOutputDetector{}

	t.Run("GoPrintln", func(t *testing.T) {
		tree := parse(t, "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"debug\")\n}\n", "go")
		found := d.Check(tree, Profile{})
		require.Len(t, found, 1)
		assert.Equal(t, models.ViolationDebugOutput, found[0].Kind)
		assert.Equal(t, models.WeightMedium, found[0].Weight)
		assert.Equal(t, 6, found[0].Location.StartLine)
	})

	t.Run("PythonPrint", func(t *testing.T) {
		tree := parse(t, "def greet():\n    print(\"hi\")\n", "python")
		found := d.Check(tree, Profile{})
		require.Len(t, found, 1)
	})

	t.Run("JavascriptConsole", func(t *testing.T) {
		tree := parse(t, "function f() {\n  console.log(\"x\");\n}\n", "javascript")
		found := d.Check(tree, Profile{})
		require.Len(t, found, 1)
	})

	t.Run("CleanSource", func(t *testing.T) {
		tree := parse(t, "package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n", "go")
		assert.Empty(t, d.Check(tree, Profile{}))
	})
}

func TestFunctionLengthDetector(t *testing.T) {
	d := functionLengthDetector{}
	source := "package main\n\nfunc long() int {\n\ta := 0\n\ta++\n\ta++\n\treturn a\n}\n"

	t.Run("OverLimit", func(t *testing.T) {
		tree := parse(t, source, "go")
		found := d.Check(tree, Profile{MaxFunctionLines: 3})
		require.Len(t, found, 1)
		assert.Equal(t, models.ViolationFunctionLength, found[0].Kind)
	})

	t.Run("UnderLimit", func(t *testing.T) {
		tree := parse(t, source, "go")
		assert.Empty(t, d.Check(tree, Profile{MaxFunctionLines: 50}))
	})

	t.Run("DisabledThreshold", func(t *testing.T) {
		tree := parse(t, source, "go")
		assert.Empty(t, d.Check(tree, Profile{}))
	})
}

func TestNestingDepthDetector(t *testing.T) {
	d := nestingDepthDetector{}
	source := "package main\n\nfunc count(xs []int) int {\n\ttotal := 0\n\tfor _, x := range xs {\n\t\tif x > 0 {\n\t\t\tif x < x+x {\n\t\t\t\ttotal++\n\t\t\t}\n\t\t}\n\t}\n\treturn total\n}\n"

	t.Run("OverLimit", func(t *testing.T) {
		tree := parse(t, source, "go")
		found := d.Check(tree, Profile{MaxNestingDepth: 2})
		require.Len(t, found, 1)
		assert.Equal(t, models.ViolationNestingDepth, found[0].Kind)
	})

	t.Run("FlagsOncePerChain", func(t *testing.T) {
		tree := parse(t, source, "go")
		found := d.Check(tree, Profile{MaxNestingDepth: 1})
		require.Len(t, found, 1)
	})

	t.Run("UnderLimit", func(t *testing.T) {
		tree := parse(t, source, "go")
		assert.Empty(t, d.Check(tree, Profile{MaxNestingDepth: 4}))
	})
}

func TestLiteralConstantDetector(t *testing.T) {
	d := literalConstantDetector{}

	t.Run("UnexplainedLiteral", func(t *testing.T) {
		tree := parse(t, "package main\n\nfunc area(r float64) float64 {\n\treturn 3.14159 * r * r\n}\n", "go")
		found := d.Check(tree, Profile{})
		require.Len(t, found, 1)
		assert.Equal(t, models.ViolationLiteralConstant, found[0].Kind)
		assert.Equal(t, models.WeightLow, found[0].Weight)
	})

	t.Run("ZeroOneMinusOneAllowed", func(t *testing.T) {
		source := "package main\n\nfunc sign(n int) int {\n\tif n == 0 {\n\t\treturn 0\n\t}\n\tif n > 0 {\n\t\treturn 1\n\t}\n\treturn -1\n}\n"
		tree := parse(t, source, "go")
		assert.Empty(t, d.Check(tree, Profile{}))
	})

	t.Run("GoConstDeclarationExplains", func(t *testing.T) {
		source := "package main\n\nconst limit = 42\n\nfunc ok(n int) bool {\n\treturn n > limit\n}\n"
		tree := parse(t, source, "go")
		assert.Empty(t, d.Check(tree, Profile{}))
	})

	t.Run("JavascriptConstExplains", func(t *testing.T) {
		source := "const LIMIT = 42;\nfunction ok(n) {\n  return n > LIMIT;\n}\n"
		tree := parse(t, source, "javascript")
		assert.Empty(t, d.Check(tree, Profile{}))
	})

	t.Run("PythonUpperCaseAssignmentExplains", func(t *testing.T) {
		source := "MAX_SIZE = 42\n\ndef ok(n):\n    return n < MAX_SIZE\n"
		tree := parse(t, source, "python")
		assert.Empty(t, d.Check(tree, Profile{}))
	})

	t.Run("PythonLowerCaseAssignmentFlagged", func(t *testing.T) {
		source := "max_size = 42\n\ndef ok(n):\n    return n < max_size\n"
		tree := parse(t, source, "python")
		assert.Len(t, d.Check(tree, Profile{}), 1)
	})
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	t.Run("ProtocolValidationIsParseOnly", func(t *testing.T) {
		assert.Empty(t, registry.ForReviewType(models.ReviewTypeProtocolValidation))
	})

	t.Run("FullSetInStableOrder", func(t *testing.T) {
		detectors := registry.ForReviewType(models.ReviewTypePainAnalysis)
		got := make([]models.ViolationKind, len(detectors))
		for i, d := range detectors {
			got[i] = d.Kind()
		}
		want := []models.ViolationKind{
			models.ViolationDebugOutput,
			models.ViolationFunctionLength,
			models.ViolationNestingDepth,
			models.ViolationLiteralConstant,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("detector order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("RunConcatenatesFindings", func(t *testing.T) {
		source := "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(3.14159)\n}\n"
		tree := parse(t, source, "go")
		found := registry.Run(tree, models.ReviewTypePainAnalysis, Profile{MaxFunctionLines: 50, MaxNestingDepth: 4})
		assert.ElementsMatch(t, []models.ViolationKind{
			models.ViolationDebugOutput,
			models.ViolationLiteralConstant,
		}, kinds(found))
	})

	t.Run("CleanSourceHasNoFindings", func(t *testing.T) {
		tree := parse(t, "package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n", "go")
		found := registry.Run(tree, models.ReviewTypePainAnalysis, Profile{MaxFunctionLines: 50, MaxNestingDepth: 4})
		assert.Empty(t, found)
	})
}
