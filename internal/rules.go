package internal

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
	"gopkg.in/yaml.v3"

	"repowatch/pkg/notify"
)

// EmitList accepts either a single topic or a list of topics in YAML.
type EmitList []string

func (e *EmitList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		*e = EmitList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*e = EmitList(many)
		return nil
	default:
		return fmt.Errorf("emit must be a string or a list of strings")
	}
}

// Rule routes notifications matching When to the Emit topics, or drops them.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
	Drop    bool     `yaml:"drop"`
}

// RuleMatch is one topic selected by a rule.
type RuleMatch struct {
	Topic   string
	Drivers []string
	Drop    bool
}

type compiledRule struct {
	emit    []string
	drivers []string
	drop    bool
	expr    *govaluate.EvaluableExpression
	vars    map[string]ruleVar
}

type ruleVar struct {
	key  string
	path bool
}

// RuleEngine evaluates routing rules against notification fields.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger Logger
}

// NewRuleEngine compiles every rule in cfg.
func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		expression, vars := normalizeExpression(rule.When)
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, ruleFunctions)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{
			emit:    rule.Emit,
			drivers: rule.Drivers,
			drop:    rule.Drop,
			expr:    expr,
			vars:    vars,
		})
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NewLogger("rules")
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Evaluate returns the matches for fields, in rule order.
func (r *RuleEngine) Evaluate(fields map[string]interface{}) []RuleMatch {
	if len(r.rules) == 0 {
		return nil
	}

	flat := Flatten(fields)
	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		params := ruleParameters{flat: flat, strict: r.strict}
		if len(rule.vars) > 0 {
			params.vars = make(map[string]interface{}, len(rule.vars))
			for name, v := range rule.vars {
				if !v.path {
					if value, ok := flat[v.key]; ok {
						params.vars[name] = value
					}
					continue
				}
				value, err := jsonpath.Get(v.key, fields)
				if err != nil {
					continue
				}
				params.vars[name] = value
			}
		}
		result, err := rule.expr.Eval(params)
		if err != nil {
			if r.strict {
				r.logger.Printf("rule eval failed: %v", err)
			}
			continue
		}
		ok, _ := result.(bool)
		if !ok {
			continue
		}
		if rule.drop {
			matches = append(matches, RuleMatch{Drop: true})
			continue
		}
		for _, topic := range rule.emit {
			matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
		}
	}
	return matches
}

// Route implements notify.Router.
func (r *RuleEngine) Route(n notify.Notification) ([]notify.Route, bool) {
	matches := r.Evaluate(n.Fields())
	routes := make([]notify.Route, 0, len(matches))
	for _, match := range matches {
		if match.Drop {
			return nil, true
		}
		routes = append(routes, notify.Route{Topic: match.Topic, Drivers: match.Drivers})
	}
	return routes, false
}

type ruleParameters struct {
	flat   map[string]interface{}
	vars   map[string]interface{}
	strict bool
}

func (p ruleParameters) Get(name string) (interface{}, error) {
	if value, ok := p.vars[name]; ok {
		return numeric(value), nil
	}
	if value, ok := p.flat[name]; ok {
		return numeric(value), nil
	}
	if p.strict {
		return nil, fmt.Errorf("no parameter %q found", name)
	}
	return nil, nil
}

var (
	pathToken  = regexp.MustCompile(`\$(\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])+`)
	dottedName = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])+`)
)

// normalizeExpression replaces "$.a.b" JSONPath tokens and dotted names such
// as "data.delta" or "labels[0]" with synthetic govaluate variables. Dotted
// names resolve against Flatten's keys, JSONPath tokens through jsonpath.
// Quoted strings and bracket-escaped names are left alone.
func normalizeExpression(expr string) (string, map[string]ruleVar) {
	var (
		out  strings.Builder
		vars map[string]ruleVar
	)
	alias := func(v ruleVar) string {
		if vars == nil {
			vars = make(map[string]ruleVar)
		}
		name := fmt.Sprintf("__v%d", len(vars))
		vars[name] = v
		return "[" + name + "]"
	}
	rewrite := func(chunk string) string {
		chunk = pathToken.ReplaceAllStringFunc(chunk, func(path string) string {
			return alias(ruleVar{key: path, path: true})
		})
		return dottedName.ReplaceAllStringFunc(chunk, func(name string) string {
			return alias(ruleVar{key: name})
		})
	}

	start := 0
	for i := 0; i < len(expr); i++ {
		switch expr[i] {
		case '"', '\'':
			quote := expr[i]
			out.WriteString(rewrite(expr[start:i]))
			end := strings.IndexByte(expr[i+1:], quote)
			if end < 0 {
				out.WriteString(expr[i:])
				return out.String(), vars
			}
			out.WriteString(expr[i : i+end+2])
			i += end + 1
			start = i + 1
		case '[':
			if i > 0 && isNameByte(expr[i-1]) {
				continue
			}
			out.WriteString(rewrite(expr[start:i]))
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				out.WriteString(expr[i:])
				return out.String(), vars
			}
			out.WriteString(expr[i : i+end+1])
			i += end
			start = i + 1
		}
	}
	out.WriteString(rewrite(expr[start:]))
	return out.String(), vars
}

// numeric widens integers to float64, the only number type govaluate compares.
func numeric(value interface{}) interface{} {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}

func isNameByte(b byte) bool {
	return b == '_' || b == ']' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var ruleFunctions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains expects 2 arguments")
		}
		switch haystack := args[0].(type) {
		case string:
			needle, _ := args[1].(string)
			return strings.Contains(haystack, needle), nil
		case []interface{}:
			for _, item := range haystack {
				if reflect.DeepEqual(numeric(item), args[1]) {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, nil
		}
	},
	"like": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("like expects 2 arguments")
		}
		value, _ := args[0].(string)
		pattern, _ := args[1].(string)
		re := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), "%", ".*") + "$"
		return regexp.MatchString(re, value)
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower expects 1 argument")
		}
		value, _ := args[0].(string)
		return strings.ToLower(value), nil
	},
}
