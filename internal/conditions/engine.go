// Package conditions evaluates the condition languages carried by policies:
// CEL boolean expressions, simple attribute comparators and time-window
// rules. It knows nothing about policy effects or ordering; callers combine
// the verdicts.
package conditions

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	celtypes "github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter/functions"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/nnipa/authz-service/pkg/types"
)

// EvalContext carries the request-scoped values exposed to expressions.
// Field names map one to one onto the declared CEL variables.
type EvalContext struct {
	UserID     string
	TenantID   string
	Resource   string
	Action     string
	ResourceID string
	IPAddress  string
	UserAgent  string

	// Attributes holds the caller-supplied request attributes.
	Attributes map[string]interface{}

	// Permissions holds one map per effective permission (resourceType,
	// action, riskLevel), PermissionNames the canonical TYPE:ACTION forms.
	Permissions     []map[string]interface{}
	PermissionNames []string

	// Now anchors now, currentTime, dayOfWeek and hour. Zero means wall time.
	Now time.Time
}

func (c *EvalContext) clock() time.Time {
	if c.Now.IsZero() {
		return time.Now().UTC()
	}
	return c.Now
}

func (c *EvalContext) vars() map[string]interface{} {
	now := c.clock()
	attrs := c.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	perms := c.Permissions
	if perms == nil {
		perms = []map[string]interface{}{}
	}
	names := c.PermissionNames
	if names == nil {
		names = []string{}
	}
	return map[string]interface{}{
		"userId":          c.UserID,
		"tenantId":        c.TenantID,
		"resource":        c.Resource,
		"action":          c.Action,
		"resourceId":      c.ResourceID,
		"ipAddress":       c.IPAddress,
		"userAgent":       c.UserAgent,
		"attributes":      attrs,
		"permissions":     perms,
		"permissionNames": names,
		"now":             now,
		"currentTime":     now.Format("15:04:05"),
		"dayOfWeek":       strings.ToUpper(now.Weekday().String()),
		"hour":            now.Hour(),
	}
}

func (c *EvalContext) holds(name string) bool {
	for _, n := range c.PermissionNames {
		if n == name {
			return true
		}
	}
	return false
}

func (c *EvalContext) hasPermission(lhs, rhs ref.Val) ref.Val {
	resource, ok := lhs.Value().(string)
	if !ok {
		return celtypes.NewErr("hasPermission: resource must be a string")
	}
	action, ok := rhs.Value().(string)
	if !ok {
		return celtypes.NewErr("hasPermission: action must be a string")
	}
	return celtypes.Bool(c.holds(types.PermissionName(resource, action)))
}

func (c *EvalContext) hasAnyPermission(arg ref.Val) ref.Val {
	native, err := arg.ConvertToNative(reflect.TypeOf([]string{}))
	if err != nil {
		return celtypes.NewErr("hasAnyPermission: %v", err)
	}
	for _, name := range native.([]string) {
		if c.holds(name) {
			return celtypes.True
		}
	}
	return celtypes.False
}

// overloads binds the permission helpers to this context. Bound per program
// so cached ASTs stay context free.
func (c *EvalContext) overloads() []*functions.Overload {
	return []*functions.Overload{
		{Operator: "hasPermission", Binary: c.hasPermission},
		{Operator: "hasPermission_string_string", Binary: c.hasPermission},
		{Operator: "hasAnyPermission", Unary: c.hasAnyPermission},
		{Operator: "hasAnyPermission_list", Unary: c.hasAnyPermission},
	}
}

// Engine compiles and evaluates CEL expressions with the authorization
// vocabulary declared. Compiled ASTs are cached by expression text.
type Engine struct {
	env  *cel.Env
	asts sync.Map
}

// NewEngine builds the CEL environment with all request variables and the
// hasPermission / hasAnyPermission functions declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("userId", decls.String),
			decls.NewVar("tenantId", decls.String),
			decls.NewVar("resource", decls.String),
			decls.NewVar("action", decls.String),
			decls.NewVar("resourceId", decls.String),
			decls.NewVar("ipAddress", decls.String),
			decls.NewVar("userAgent", decls.String),
			decls.NewVar("attributes", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("permissions", decls.NewListType(decls.Dyn)),
			decls.NewVar("permissionNames", decls.NewListType(decls.String)),
			decls.NewVar("now", decls.Timestamp),
			decls.NewVar("currentTime", decls.String),
			decls.NewVar("dayOfWeek", decls.String),
			decls.NewVar("hour", decls.Int),
		),
		cel.Declarations(
			decls.NewFunction("hasPermission",
				decls.NewOverload("hasPermission_string_string",
					[]*exprpb.Type{decls.String, decls.String},
					decls.Bool,
				),
			),
			decls.NewFunction("hasAnyPermission",
				decls.NewOverload("hasAnyPermission_list",
					[]*exprpb.Type{decls.NewListType(decls.String)},
					decls.Bool,
				),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &Engine{env: env}, nil
}

// Compile parses and type-checks an expression, caching the AST.
func (e *Engine) Compile(expr string) (*cel.Ast, error) {
	if cached, ok := e.asts.Load(expr); ok {
		return cached.(*cel.Ast), nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	e.asts.Store(expr, ast)
	return ast, nil
}

// EvaluateBool runs a boolean expression against the evaluation context.
// The program is rebuilt per call so the permission helpers can close over
// the caller's permission set; only the compiled AST is shared.
func (e *Engine) EvaluateBool(expr string, ec *EvalContext) (bool, error) {
	ast, err := e.Compile(expr)
	if err != nil {
		return false, err
	}
	prg, err := e.env.Program(ast, cel.Functions(ec.overloads()...))
	if err != nil {
		return false, fmt.Errorf("build program: %w", err)
	}
	out, _, err := prg.Eval(ec.vars())
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean")
	}
	return b, nil
}
