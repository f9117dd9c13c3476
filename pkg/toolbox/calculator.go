package toolbox

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"

	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/pkg/errors"
)

type CalculatorRequest struct {
	Expression string `json:"expression" jsonschema:"required,description=Arithmetic expression such as (2 + 3) * sqrt(16)"`
}

// NewCalculatorTool evaluates arithmetic expressions.
func NewCalculatorTool() *tools.FuncTool[CalculatorRequest] {
	return tools.MustFuncTool(
		CalculatorToolName,
		"Evaluates arithmetic with + - * / %, parentheses, sqrt, pow and abs. Argument: the expression.",
		func(ctx context.Context, in CalculatorRequest) (string, error) {
			v, err := Evaluate(in.Expression)
			if err != nil {
				return "", tools.NewToolError(CalculatorToolName, tools.ToolErrorExecution, "%s", err.Error())
			}
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		},
		tools.WithPositionalParameter("expression"),
	)
}

// Evaluate computes an arithmetic expression. Only number literals, the operators + - * / % and
// the functions sqrt, pow and abs are accepted.
func Evaluate(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, errors.New("empty expression")
	}
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid expression %q", expr)
	}
	return eval(node)
}

func eval(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, errors.Errorf("unsupported literal %s", n.Value)
		}
		return strconv.ParseFloat(n.Value, 64)

	case *ast.ParenExpr:
		return eval(n.X)

	case *ast.UnaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		}
		return 0, errors.Errorf("unsupported operator %s", n.Op)

	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		case token.REM:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return math.Mod(x, y), nil
		}
		return 0, errors.Errorf("unsupported operator %s", n.Op)

	case *ast.CallExpr:
		fn, ok := n.Fun.(*ast.Ident)
		if !ok {
			return 0, errors.New("unsupported function call")
		}
		args := make([]float64, 0, len(n.Args))
		for _, a := range n.Args {
			v, err := eval(a)
			if err != nil {
				return 0, err
			}
			args = append(args, v)
		}
		return call(fn.Name, args)
	}
	return 0, errors.Errorf("unsupported expression %T", node)
}

func call(name string, args []float64) (float64, error) {
	arity := map[string]int{"sqrt": 1, "abs": 1, "pow": 2}
	want, ok := arity[name]
	if !ok {
		return 0, errors.Errorf("unknown function %s", name)
	}
	if len(args) != want {
		return 0, errors.Errorf("%s expects %d arguments, got %d", name, want, len(args))
	}
	switch name {
	case "sqrt":
		if args[0] < 0 {
			return 0, errors.New("square root of a negative number")
		}
		return math.Sqrt(args[0]), nil
	case "abs":
		return math.Abs(args[0]), nil
	default:
		return math.Pow(args[0], args[1]), nil
	}
}
