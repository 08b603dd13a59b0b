// Package conditions evaluates app-authored trigger condition expressions
// against event data. Expressions use a restricted boolean subset of
// JavaScript syntax; the package parses with goja's parser and interprets the
// AST itself, so host capabilities are unreachable by construction rather
// than blocked by a blocklist.
package conditions

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// exprParser parses condition expressions with a bounded parse cache.
type exprParser struct {
	cache        sync.Map
	cacheSize    int64
	maxCacheSize int64
	mu           sync.Mutex
}

func newExprParser() *exprParser {
	return &exprParser{
		maxCacheSize: 1000,
	}
}

// parse returns the expression node for a condition string. Results,
// including failures, are cached by the exact trimmed source text.
func (p *exprParser) parse(expression string) (ast.Expression, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return nil, fmt.Errorf("empty expression")
	}

	if cached, ok := p.cache.Load(trimmed); ok {
		if cached == nil {
			return nil, fmt.Errorf("expression previously failed to parse")
		}
		if expr, ok := cached.(ast.Expression); ok {
			return expr, nil
		}
	}

	expr, err := p.parseInternal(trimmed)
	if err != nil {
		p.setCached(trimmed, nil)
		return nil, err
	}

	p.setCached(trimmed, expr)

	return expr, nil
}

func (p *exprParser) parseInternal(expression string) (ast.Expression, error) {
	// Wrap so the source parses as a complete single-statement program.
	wrapped := fmt.Sprintf("(%s)", expression)

	program, err := parser.ParseFile(nil, "", wrapped, 0)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	if len(program.Body) != 1 {
		return nil, fmt.Errorf("expected single expression")
	}

	stmt, ok := program.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return nil, fmt.Errorf("expected expression statement")
	}

	return stmt.Expression, nil
}

func (p *exprParser) setCached(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cacheSize >= p.maxCacheSize {
		p.cache = sync.Map{}
		p.cacheSize = 0
	}

	p.cache.Store(key, value)
	p.cacheSize++
}
