package guard

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/routeguard/routeguard/internal/session"
)

// ValidatorInput is the request view handed to custom validators.
type ValidatorInput struct {
	Method    string
	Path      string
	IPAddress string
	UserAgent string
	User      *session.User
	RiskLevel string
	RiskScore int
}

// Validator evaluates per-route CEL expressions. Expressions must evaluate
// to a boolean; true allows the request.
type Validator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewValidator creates a CEL validator.
func NewValidator() (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("subject", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("riskLevel", cel.StringType),
		cel.Variable("riskScore", cel.IntType),
		cel.Variable("now", cel.TimestampType),
		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRangeBinding),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator environment: %w", err)
	}

	return &Validator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile compiles an expression and caches the program. Compiling at
// configuration load surfaces bad expressions before traffic arrives.
func (v *Validator) Compile(expression string) error {
	_, err := v.program(expression)
	return err
}

// Evaluate runs the expression against the request view.
func (v *Validator) Evaluate(expression string, input *ValidatorInput) (bool, error) {
	program, err := v.program(expression)
	if err != nil {
		return false, err
	}

	subject := map[string]interface{}{}
	if input.User != nil {
		subject = map[string]interface{}{
			"id":    input.User.ID,
			"email": input.User.Email,
			"role":  input.User.Role,
		}
	}

	out, _, err := program.Eval(map[string]interface{}{
		"request": map[string]interface{}{
			"method":    input.Method,
			"path":      input.Path,
			"ip":        input.IPAddress,
			"userAgent": input.UserAgent,
		},
		"subject":   subject,
		"riskLevel": input.RiskLevel,
		"riskScore": input.RiskScore,
		"now":       time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("validator evaluation failed: %w", err)
	}

	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("validator %q did not evaluate to a boolean", expression)
	}
	return allowed, nil
}

// program returns the cached compiled program for an expression.
func (v *Validator) program(expression string) (cel.Program, error) {
	v.mu.RLock()
	program, ok := v.programs[expression]
	v.mu.RUnlock()
	if ok {
		return program, nil
	}

	ast, issues := v.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile validator %q: %w", expression, issues.Err())
	}

	program, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build validator program: %w", err)
	}

	v.mu.Lock()
	v.programs[expression] = program
	v.mu.Unlock()

	return program, nil
}

// ipInRangeBinding checks if an IP is inside a CIDR range (CEL binding).
func ipInRangeBinding(ip, cidr ref.Val) ref.Val {
	ipStr, ok := ip.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := cidr.Value().(string)
	if !ok {
		return types.False
	}

	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return types.False
	}
	prefix, err := netip.ParsePrefix(cidrStr)
	if err != nil {
		return types.False
	}

	if prefix.Masked().Contains(addr.Unmap()) {
		return types.True
	}
	return types.False
}
