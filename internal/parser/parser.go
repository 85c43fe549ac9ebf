// Package parser turns raw source text into a syntax tree, or a
// ParseFailure when the text cannot be parsed within budget. Language
// support is pluggable: one adapter per language behind a common
// contract, selected by a normalized language hint.
package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/painreview/pkg/models"
)

// Adapter parses one language. Parse must respect ctx cancellation so
// the service can enforce a wall-clock budget on pathological inputs.
type Adapter interface {
	Language() string
	Parse(ctx context.Context, src []byte) (*sitter.Tree, error)
}

// Tree is a parsed source unit. It owns the underlying tree-sitter
// tree; callers must Close it when done.
type Tree struct {
	Language string
	src      []byte
	tree     *sitter.Tree
}

// Root returns the root syntax node.
func (t *Tree) Root() *sitter.Node { return t.tree.RootNode() }

// Source returns the raw bytes the tree was parsed from.
func (t *Tree) Source() []byte { return t.src }

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

type treeSitterAdapter struct {
	language string
	lang     *sitter.Language
}

func (a *treeSitterAdapter) Language() string { return a.language }

func (a *treeSitterAdapter) Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(a.lang)
	return p.ParseCtx(ctx, nil, src)
}

// Service resolves language hints to adapters and enforces the parse
// budget. Unsupported languages and syntax errors come back as
// ParseFailure values, never as errors.
type Service struct {
	adapters map[string]Adapter
	budget   time.Duration
}

// NewService creates a parser service with the built-in language
// adapters registered under their common aliases.
func NewService(budget time.Duration) *Service {
	s := &Service{
		adapters: make(map[string]Adapter),
		budget:   budget,
	}
	s.Register(&treeSitterAdapter{language: "go", lang: golang.GetLanguage()}, "golang")
	s.Register(&treeSitterAdapter{language: "python", lang: python.GetLanguage()}, "py", "python3")
	s.Register(&treeSitterAdapter{language: "javascript", lang: javascript.GetLanguage()}, "js", "node")
	return s
}

// Register adds an adapter under its language name plus any aliases.
func (s *Service) Register(a Adapter, aliases ...string) {
	s.adapters[a.Language()] = a
	for _, alias := range aliases {
		s.adapters[alias] = a
	}
}

// Supports reports whether a language hint resolves to an adapter.
func (s *Service) Supports(hint string) bool {
	_, ok := s.adapters[normalizeHint(hint)]
	return ok
}

// Parse parses src according to the language hint. The returned
// failure is nil on success; on failure the tree is nil.
func (s *Service) Parse(ctx context.Context, src []byte, hint string) (*Tree, *models.ParseFailure) {
	normalized := normalizeHint(hint)
	adapter, ok := s.adapters[normalized]
	if !ok {
		return nil, &models.ParseFailure{
			Reason:  models.FailureUnsupportedLanguage,
			Message: fmt.Sprintf("no parser registered for language %q", hint),
		}
	}

	parseCtx := ctx
	if s.budget > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, s.budget)
		defer cancel()
	}

	start := time.Now()
	tree, err := adapter.Parse(parseCtx, src)
	if err != nil {
		reason := models.FailureUnparsableSyntax
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(parseCtx.Err(), context.DeadlineExceeded) {
			reason = models.FailureInternalTimeout
		}
		log.Debug().
			Str("language", adapter.Language()).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("Parse aborted")
		return nil, &models.ParseFailure{
			Reason:  reason,
			Message: fmt.Sprintf("parse aborted for language %q", adapter.Language()),
		}
	}

	root := tree.RootNode()
	if root == nil || root.HasError() {
		tree.Close()
		return nil, &models.ParseFailure{
			Reason:  models.FailureUnparsableSyntax,
			Message: fmt.Sprintf("source contains syntax errors (%s)", adapter.Language()),
		}
	}

	log.Debug().
		Str("language", adapter.Language()).
		Int("bytes", len(src)).
		Dur("elapsed", time.Since(start)).
		Msg("Parsed source")

	return &Tree{Language: adapter.Language(), src: src, tree: tree}, nil
}

func normalizeHint(hint string) string {
	return strings.ToLower(strings.TrimSpace(hint))
}
