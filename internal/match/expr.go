package match

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// Expr is a Matcher compiled from a CEL boolean expression over the
// variables role, ownerIdentity and correlationId, e.g.
//
//	role == "operator" || ownerIdentity.endsWith("@example.com")
type Expr struct {
	src  string
	prog cel.Program
}

// Compile parses and type-checks src. The expression must yield a bool.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	env, err := cel.NewEnv(
		cel.Variable("role", cel.StringType),
		cel.Variable("ownerIdentity", cel.StringType),
		cel.Variable("correlationId", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(src)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, &typeError{src: src, got: ast.OutputType().String()}
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return &Expr{src: src, prog: prog}, nil
}

// Match evaluates the expression. Evaluation errors count as no match.
func (e *Expr) Match(m Meta) bool {
	out, _, err := e.prog.Eval(map[string]any{
		"role":          m.Role,
		"ownerIdentity": m.OwnerIdentity,
		"correlationId": m.CorrelationID,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func (e *Expr) String() string { return e.src }

type typeError struct {
	src, got string
}

func (e *typeError) Error() string {
	return "match: expression " + e.src + " yields " + e.got + ", want bool"
}
