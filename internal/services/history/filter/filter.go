// Package filter translates AIP-160 filter expressions over execution fields
// into SQL conditions for the execution store.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Condition is a SQL WHERE fragment with positional parameters.
type Condition struct {
	// Clause is the SQL fragment, e.g. "type_of = ?". Empty means no filter.
	Clause string
	// Params are the positional parameters for Clause.
	Params []any
}

// Empty reports whether the condition filters nothing.
func (c Condition) Empty() bool {
	return strings.TrimSpace(c.Clause) == ""
}

type field struct {
	name   string
	column string
	typ    *expr.Type
}

// fields lists every filterable execution field and its column. Timestamps
// compare against the millisecond columns; pull_nb compares numerically.
var fields = []field{
	{name: "uuid", column: "uuid", typ: filtering.TypeString},
	{name: "git_ref", column: "git_ref", typ: filtering.TypeString},
	{name: "type_of", column: "type_of", typ: filtering.TypeString},
	{name: "golang_version", column: "golang_version", typ: filtering.TypeString},
	{name: "pull_nb", column: "pull_nb_int", typ: filtering.TypeInt},
	{name: "started_at", column: "started_at_ms", typ: filtering.TypeTimestamp},
	{name: "finished_at", column: "finished_at_ms", typ: filtering.TypeTimestamp},
}

var columns = func() map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.name] = f.column
	}
	return out
}()

// Fields returns the filterable field names.
func Fields() []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.name)
	}
	return out
}

// Declarations returns the AIP declarations for execution filtering.
func Declarations() (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{filtering.DeclareStandardFunctions()}
	for _, f := range fields {
		opts = append(opts, filtering.DeclareIdent(f.name, f.typ))
	}
	return filtering.NewDeclarations(opts...)
}

// Parse parses an AIP-160 expression. Blank input yields an empty condition.
func Parse(filterStr string) (Condition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return Condition{}, nil
	}
	decls, err := Declarations()
	if err != nil {
		return Condition{}, fmt.Errorf("create declarations: %w", err)
	}
	parsed, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return Condition{}, fmt.Errorf("parse filter: %w", err)
	}
	if parsed.CheckedExpr == nil {
		return Condition{}, nil
	}
	return translateExpr(parsed.CheckedExpr.GetExpr())
}

func translateExpr(e *expr.Expr) (Condition, error) {
	if e == nil {
		return Condition{}, nil
	}
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return Condition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

var comparisons = map[string]string{
	filtering.FunctionEquals:        "=",
	filtering.FunctionNotEquals:     "!=",
	filtering.FunctionLessThan:      "<",
	filtering.FunctionLessEquals:    "<=",
	filtering.FunctionGreaterThan:   ">",
	filtering.FunctionGreaterEquals: ">=",
}

func translateCall(call *expr.Expr_Call) (Condition, error) {
	switch call.GetFunction() {
	case filtering.FunctionAnd:
		return translateJoin(call.GetArgs(), "AND")
	case filtering.FunctionOr:
		return translateJoin(call.GetArgs(), "OR")
	case filtering.FunctionNot:
		if len(call.GetArgs()) != 1 {
			return Condition{}, fmt.Errorf("NOT requires 1 argument")
		}
		inner, err := translateExpr(call.GetArgs()[0])
		if err != nil {
			return Condition{}, err
		}
		return Condition{Clause: "(NOT " + inner.Clause + ")", Params: inner.Params}, nil
	}
	if op, ok := comparisons[call.GetFunction()]; ok {
		return translateComparison(call.GetArgs(), op)
	}
	return Condition{}, fmt.Errorf("unsupported function: %s", call.GetFunction())
}

func translateJoin(args []*expr.Expr, op string) (Condition, error) {
	if len(args) < 2 {
		return Condition{}, fmt.Errorf("%s requires at least 2 arguments", op)
	}
	clauses := make([]string, 0, len(args))
	var params []any
	for _, arg := range args {
		cond, err := translateExpr(arg)
		if err != nil {
			return Condition{}, err
		}
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}
	return Condition{
		Clause: "(" + strings.Join(clauses, " "+op+" ") + ")",
		Params: params,
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	name, err := identName(args[0])
	if err != nil {
		return Condition{}, err
	}
	column, ok := columns[name]
	if !ok {
		return Condition{}, fmt.Errorf("unknown field: %s", name)
	}
	value, err := constValue(args[1])
	if err != nil {
		return Condition{}, err
	}
	if op == "!=" {
		// NULL columns (unparseable timestamps, non-numeric PRs) never match.
		return Condition{
			Clause: fmt.Sprintf("(%s IS NOT NULL AND %s != ?)", column, column),
			Params: []any{value},
		}, nil
	}
	return Condition{
		Clause: fmt.Sprintf("%s %s ?", column, op),
		Params: []any{value},
	}, nil
}

func identName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.GetName(), nil
	default:
		return "", fmt.Errorf("expected field name, got %T", kind)
	}
}

func constValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_ConstExpr:
		return constantValue(kind.ConstExpr)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.GetFunction() == filtering.FunctionTimestamp && len(kind.CallExpr.GetArgs()) == 1 {
			return timestampMillis(kind.CallExpr.GetArgs()[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.GetFunction())
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func constantValue(c *expr.Constant) (any, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constant")
	}
	switch kind := c.GetConstantKind().(type) {
	case *expr.Constant_StringValue:
		return kind.StringValue, nil
	case *expr.Constant_Int64Value:
		return kind.Int64Value, nil
	case *expr.Constant_Uint64Value:
		return int64(kind.Uint64Value), nil
	default:
		return nil, fmt.Errorf("unsupported constant type: %T", kind)
	}
}

// timestampMillis returns the UTC Unix milliseconds of a timestamp("...") argument.
func timestampMillis(e *expr.Expr) (int64, error) {
	constExpr, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a constant string")
	}
	text, ok := constExpr.ConstExpr.GetConstantKind().(*expr.Constant_StringValue)
	if !ok {
		return 0, fmt.Errorf("timestamp argument must be a string")
	}
	parsed, err := time.Parse(time.RFC3339Nano, text.StringValue)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp format: %s", text.StringValue)
	}
	return parsed.UTC().UnixMilli(), nil
}
