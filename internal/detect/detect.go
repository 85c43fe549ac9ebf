// Package detect holds the violation detectors: independent, pure rule
// checks over a parsed tree. Detectors share no state and may not
// suppress each other's findings; their outputs are concatenated in
// registration order.
package detect

import (
	"fmt"
	"strconv"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/painreview/internal/parser"
	"github.com/painreview/pkg/models"
)

// Profile carries the thresholds a review type applies.
type Profile struct {
	MaxFunctionLines int
	MaxNestingDepth  int
}

// Detector is one rule check. Check must be a pure function of the
// tree and profile.
type Detector interface {
	Kind() models.ViolationKind
	Check(t *parser.Tree, p Profile) []models.Violation
}

// Registry is the closed set of detectors, keyed by violation kind.
// New rules are added by registering a new detector, never by
// extending an existing one.
type Registry struct {
	order     []models.ViolationKind
	detectors map[models.ViolationKind]Detector
}

// NewRegistry returns a registry with the canonical detector set.
func NewRegistry() *Registry {
	r := &Registry{detectors: make(map[models.ViolationKind]Detector)}
	r.Register(debugOutputDetector{})
	r.Register(functionLengthDetector{})
	r.Register(nestingDepthDetector{})
	r.Register(literalConstantDetector{})
	return r
}

// Register adds a detector. Registering the same kind twice replaces
// the earlier detector.
func (r *Registry) Register(d Detector) {
	if _, exists := r.detectors[d.Kind()]; !exists {
		r.order = append(r.order, d.Kind())
	}
	r.detectors[d.Kind()] = d
}

// ForReviewType returns the detector subset a review type runs.
// PROTOCOL_VALIDATION is parse-only; every other type runs the full
// set.
func (r *Registry) ForReviewType(rt models.ReviewType) []Detector {
	if rt == models.ReviewTypeProtocolValidation {
		return nil
	}
	detectors := make([]Detector, 0, len(r.order))
	for _, kind := range r.order {
		detectors = append(detectors, r.detectors[kind])
	}
	return detectors
}

// Run executes the detector subset for a review type and concatenates
// the findings in detection order.
func (r *Registry) Run(t *parser.Tree, rt models.ReviewType, p Profile) []models.Violation {
	violations := []models.Violation{}
	for _, d := range r.ForReviewType(rt) {
		violations = append(violations, d.Check(t, p)...)
	}
	return violations
}

func locationOf(n *sitter.Node) models.Location {
	start := n.StartPoint()
	end := n.EndPoint()
	return models.Location{
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column) + 1,
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column) + 1,
	}
}

func violation(kind models.ViolationKind, n *sitter.Node, message string) models.Violation {
	return models.Violation{
		Kind:     kind,
		Weight:   models.DefaultWeight(kind),
		Location: locationOf(n),
		Message:  message,
	}
}

// walk visits every node depth-first, children in order.
func walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}

// debugOutputDetector flags calls to known debug/print constructs.
type debugOutputDetector struct{}

func (debugOutputDetector) Kind() models.ViolationKind { return models.ViolationDebugOutput }

func (debugOutputDetector) Check(t *parser.Tree, _ Profile) []models.Violation {
	g, ok := grammars[t.Language]
	if !ok {
		return nil
	}
	var found []models.Violation
	src := t.Source()
	walk(t.Root(), func(n *sitter.Node) {
		if g.debugNodes[n.Type()] {
			found = append(found, violation(models.ViolationDebugOutput, n,
				fmt.Sprintf("debug statement %q left in source", n.Type())))
			return
		}
		if n.Type() != g.callNode {
			return
		}
		callee := n.ChildByFieldName("function")
		if callee == nil {
			return
		}
		name := callee.Content(src)
		if g.debugCalls[name] {
			found = append(found, violation(models.ViolationDebugOutput, n,
				fmt.Sprintf("debug output call %q left in source", name)))
		}
	})
	return found
}

// functionLengthDetector flags function bodies longer than the
// profile's line threshold.
type functionLengthDetector struct{}

func (functionLengthDetector) Kind() models.ViolationKind { return models.ViolationFunctionLength }

func (functionLengthDetector) Check(t *parser.Tree, p Profile) []models.Violation {
	g, ok := grammars[t.Language]
	if !ok || p.MaxFunctionLines <= 0 {
		return nil
	}
	var found []models.Violation
	walk(t.Root(), func(n *sitter.Node) {
		if !g.functionNodes[n.Type()] {
			return
		}
		lines := int(n.EndPoint().Row) - int(n.StartPoint().Row) + 1
		if lines > p.MaxFunctionLines {
			found = append(found, violation(models.ViolationFunctionLength, n,
				fmt.Sprintf("function spans %d lines, limit is %d", lines, p.MaxFunctionLines)))
		}
	})
	return found
}

// nestingDepthDetector flags control structures nested beyond the
// profile's depth threshold. Only the first node past the limit on
// each chain is flagged, not every deeper descendant.
type nestingDepthDetector struct{}

func (nestingDepthDetector) Kind() models.ViolationKind { return models.ViolationNestingDepth }

func (nestingDepthDetector) Check(t *parser.Tree, p Profile) []models.Violation {
	g, ok := grammars[t.Language]
	if !ok || p.MaxNestingDepth <= 0 {
		return nil
	}
	var found []models.Violation
	var descend func(n *sitter.Node, depth int)
	descend = func(n *sitter.Node, depth int) {
		if g.controlNodes[n.Type()] {
			depth++
			if depth == p.MaxNestingDepth+1 {
				found = append(found, violation(models.ViolationNestingDepth, n,
					fmt.Sprintf("control nesting reaches depth %d, limit is %d", depth, p.MaxNestingDepth)))
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			descend(n.Child(i), depth)
		}
	}
	descend(t.Root(), 0)
	return found
}

// literalConstantDetector flags numeric literals other than 0, 1 and
// -1 that appear outside declared constant bindings.
type literalConstantDetector struct{}

func (literalConstantDetector) Kind() models.ViolationKind { return models.ViolationLiteralConstant }

func (literalConstantDetector) Check(t *parser.Tree, _ Profile) []models.Violation {
	g, ok := grammars[t.Language]
	if !ok {
		return nil
	}
	var found []models.Violation
	src := t.Source()
	var descend func(n *sitter.Node, inConst bool)
	descend = func(n *sitter.Node, inConst bool) {
		if !inConst && constContext(t.Language, n, src) {
			inConst = true
		}
		if !inConst && g.numberNodes[n.Type()] {
			text := n.Content(src)
			if value, err := numericValue(text, n); err == nil && !explained(value) {
				found = append(found, violation(models.ViolationLiteralConstant, n,
					fmt.Sprintf("unexplained literal %s, extract a named constant", text)))
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			descend(n.Child(i), inConst)
		}
	}
	descend(t.Root(), false)
	return found
}

func explained(v float64) bool {
	return v == 0 || v == 1 || v == -1
}

// numericValue parses a literal, folding in a leading unary minus from
// the enclosing expression so -1 is recognized as explained.
func numericValue(text string, n *sitter.Node) (float64, error) {
	var value float64
	if i, err := strconv.ParseInt(text, 0, 64); err == nil {
		value = float64(i)
	} else if f, err := strconv.ParseFloat(text, 64); err == nil {
		value = f
	} else {
		return 0, err
	}
	if parent := n.Parent(); parent != nil {
		switch parent.Type() {
		case "unary_expression", "unary_operator":
			if op := parent.Child(0); op != nil && op.Type() == "-" {
				value = -value
			}
		}
	}
	return value, nil
}
