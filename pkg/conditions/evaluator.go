package conditions

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
)

// Env is the set of root identifiers an expression may reference, normally
// just {"event": ...}. Values are plain JSON shapes (maps, slices, strings,
// float64 numbers, bools, nil).
type Env map[string]any

// stringMethods is the closed whitelist of callable methods. Nothing outside
// it is callable from an expression.
var stringMethods = map[string]struct{}{
	"startsWith": {},
	"includes":   {},
}

// Evaluator is a total boolean evaluator for trigger conditions. Evaluate
// never panics and never reports an error: any parse failure, unsupported
// syntax or runtime fault evaluates to false, so one bad expression cannot
// interrupt a fan-out batch.
type Evaluator struct {
	parser *exprParser
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		parser: newExprParser(),
	}
}

// Evaluate parses and interprets the expression against env. Empty and
// whitespace-only expressions are false.
func (e *Evaluator) Evaluate(expression string, env Env) bool {
	if strings.TrimSpace(expression) == "" {
		return false
	}

	node, err := e.parser.parse(expression)
	if err != nil {
		return false
	}

	value, err := e.eval(node, env)
	if err != nil {
		return false
	}

	return truthy(value)
}

// eval interprets one whitelisted node. Anything outside the grammar is an
// error, which the caller maps to false.
func (e *Evaluator) eval(node ast.Node, env Env) (any, error) {
	switch n := node.(type) {
	case *ast.StringLiteral:
		return n.Value.String(), nil
	case *ast.NumberLiteral:
		return toFloat(n.Value)
	case *ast.BooleanLiteral:
		return n.Value, nil
	case *ast.NullLiteral:
		return nil, nil
	case *ast.Identifier:
		return e.evalIdentifier(n, env)
	case *ast.DotExpression:
		return e.evalDotExpression(n, env)
	case *ast.BracketExpression:
		return e.evalBracketExpression(n, env)
	case *ast.BinaryExpression:
		return e.evalBinaryExpression(n, env)
	case *ast.UnaryExpression:
		return e.evalUnaryExpression(n, env)
	case *ast.CallExpression:
		return e.evalCallExpression(n, env)
	default:
		return nil, fmt.Errorf("unsupported node type: %T", node)
	}
}

func (e *Evaluator) evalIdentifier(node *ast.Identifier, env Env) (any, error) {
	name := node.Name.String()

	switch name {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "undefined":
		return nil, nil
	}

	if value, ok := env[name]; ok {
		return value, nil
	}

	// Unresolvable identifiers (process, require, globalThis, ...) fail
	// closed instead of resolving to a host object.
	return nil, fmt.Errorf("unknown identifier: %s", name)
}

func (e *Evaluator) evalDotExpression(node *ast.DotExpression, env Env) (any, error) {
	object, err := e.eval(node.Left, env)
	if err != nil {
		return nil, err
	}

	return propertyAccess(object, node.Identifier.Name.String())
}

func (e *Evaluator) evalBracketExpression(node *ast.BracketExpression, env Env) (any, error) {
	object, err := e.eval(node.Left, env)
	if err != nil {
		return nil, err
	}

	member, err := e.eval(node.Member, env)
	if err != nil {
		return nil, err
	}

	switch m := member.(type) {
	case string:
		return propertyAccess(object, m)
	case float64:
		return indexAccess(object, int(m))
	default:
		return nil, fmt.Errorf("unsupported member type: %T", member)
	}
}

func (e *Evaluator) evalBinaryExpression(node *ast.BinaryExpression, env Env) (any, error) {
	left, err := e.eval(node.Left, env)
	if err != nil {
		return nil, err
	}

	operator := node.Operator.String()

	// Logical operators short-circuit before the right side is touched.
	switch operator {
	case "&&":
		if !truthy(left) {
			return left, nil
		}
		return e.eval(node.Right, env)
	case "||":
		if truthy(left) {
			return left, nil
		}
		return e.eval(node.Right, env)
	}

	right, err := e.eval(node.Right, env)
	if err != nil {
		return nil, err
	}

	switch operator {
	case "===":
		return strictEquals(left, right), nil
	case "!==":
		return !strictEquals(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(left, right, operator)
	default:
		return nil, fmt.Errorf("unsupported binary operator: %s", operator)
	}
}

func (e *Evaluator) evalUnaryExpression(node *ast.UnaryExpression, env Env) (any, error) {
	if node.Operator.String() != "!" {
		return nil, fmt.Errorf("unsupported unary operator: %s", node.Operator.String())
	}

	operand, err := e.eval(node.Operand, env)
	if err != nil {
		return nil, err
	}

	return !truthy(operand), nil
}

// evalCallExpression handles the whitelisted string methods. The callee must
// be a dot access on an expression that evaluates to a string; there is no
// path to arbitrary functions, constructors or generated code.
func (e *Evaluator) evalCallExpression(node *ast.CallExpression, env Env) (any, error) {
	dotExpr, ok := node.Callee.(*ast.DotExpression)
	if !ok {
		return nil, fmt.Errorf("unsupported call target")
	}

	methodName := dotExpr.Identifier.Name.String()
	if _, ok := stringMethods[methodName]; !ok {
		return nil, fmt.Errorf("unsupported method: %s", methodName)
	}

	receiver, err := e.eval(dotExpr.Left, env)
	if err != nil {
		return nil, err
	}

	receiverStr, ok := receiver.(string)
	if !ok {
		return nil, fmt.Errorf("%s receiver is not a string", methodName)
	}

	if len(node.ArgumentList) != 1 {
		return nil, fmt.Errorf("%s expects exactly one argument", methodName)
	}

	arg, err := e.eval(node.ArgumentList[0], env)
	if err != nil {
		return nil, err
	}

	argStr, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("%s argument is not a string", methodName)
	}

	switch methodName {
	case "startsWith":
		return strings.HasPrefix(receiverStr, argStr), nil
	case "includes":
		return strings.Contains(receiverStr, argStr), nil
	default:
		return nil, fmt.Errorf("unsupported method: %s", methodName)
	}
}

func propertyAccess(object any, property string) (any, error) {
	switch obj := object.(type) {
	case map[string]any:
		return obj[property], nil
	case []any:
		if property == "length" {
			return float64(len(obj)), nil
		}
		return nil, nil
	case string:
		if property == "length" {
			return float64(len(obj)), nil
		}
		return nil, nil
	case nil:
		return nil, fmt.Errorf("cannot read property %q of null", property)
	default:
		return nil, nil
	}
}

func indexAccess(object any, index int) (any, error) {
	arr, ok := object.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot index value of type %T", object)
	}

	if index < 0 || index >= len(arr) {
		return nil, nil
	}

	return arr[index], nil
}

func strictEquals(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	default:
		lNum, lErr := toFloat(left)
		rNum, rErr := toFloat(right)
		if lErr != nil || rErr != nil {
			return false
		}
		return lNum == rNum
	}
}

func compare(left, right any, operator string) (bool, error) {
	if lStr, ok := left.(string); ok {
		rStr, ok := right.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string with %T", right)
		}

		switch operator {
		case "<":
			return lStr < rStr, nil
		case "<=":
			return lStr <= rStr, nil
		case ">":
			return lStr > rStr, nil
		default:
			return lStr >= rStr, nil
		}
	}

	lNum, err := toFloat(left)
	if err != nil {
		return false, err
	}

	rNum, err := toFloat(right)
	if err != nil {
		return false, err
	}

	switch operator {
	case "<":
		return lNum < rNum, nil
	case "<=":
		return lNum <= rNum, nil
	case ">":
		return lNum > rNum, nil
	default:
		return lNum >= rNum, nil
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("not a number: %T", value)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int64:
		return v != 0
	case []any:
		return true
	case map[string]any:
		return true
	default:
		return value != nil
	}
}
