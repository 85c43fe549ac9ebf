package detect

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// grammar describes the node types one tree-sitter language uses for
// the constructs the detectors care about. Keyed by the normalized
// language name the parser service reports.
type grammar struct {
	functionNodes map[string]bool
	controlNodes  map[string]bool
	numberNodes   map[string]bool
	callNode      string
	debugCalls    map[string]bool
	debugNodes    map[string]bool
}

var grammars = map[string]*grammar{
	"go": {
		functionNodes: set("function_declaration", "method_declaration", "func_literal"),
		controlNodes: set("if_statement", "for_statement", "expression_switch_statement",
			"type_switch_statement", "select_statement"),
		numberNodes: set("int_literal", "float_literal"),
		callNode:    "call_expression",
		debugCalls: set("print", "println", "fmt.Print", "fmt.Printf", "fmt.Println",
			"log.Print", "log.Printf", "log.Println"),
	},
	"python": {
		functionNodes: set("function_definition"),
		controlNodes: set("if_statement", "for_statement", "while_statement",
			"try_statement", "with_statement", "match_statement"),
		numberNodes: set("integer", "float"),
		callNode:    "call",
		debugCalls:  set("print", "breakpoint"),
	},
	"javascript": {
		functionNodes: set("function_declaration", "function", "arrow_function",
			"method_definition", "generator_function_declaration"),
		controlNodes: set("if_statement", "for_statement", "for_in_statement",
			"while_statement", "do_statement", "switch_statement", "try_statement"),
		numberNodes: set("number"),
		callNode:    "call_expression",
		debugCalls: set("console.log", "console.debug", "console.info",
			"console.warn", "console.error", "console.trace", "alert"),
		debugNodes: set("debugger_statement"),
	},
}

// constContext reports whether a node declares constants in the given
// language, so numeric literals beneath it count as explained.
func constContext(language string, n *sitter.Node, src []byte) bool {
	switch language {
	case "go":
		return n.Type() == "const_declaration"
	case "javascript":
		if n.Type() != "lexical_declaration" {
			return false
		}
		return n.ChildCount() > 0 && n.Child(0).Type() == "const"
	case "python":
		// Python has no const binding; the convention is an
		// all-caps assignment target at statement level.
		if n.Type() != "assignment" {
			return false
		}
		left := n.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			return false
		}
		name := left.Content(src)
		return name != "" && name == strings.ToUpper(name)
	}
	return false
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
