package services

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// StaticValidator applies a fixed battery of structural checks to a
// synthesized program. Checks run in order and all contribute issues;
// only an unparseable program short-circuits, since the remaining
// checks are meaningless against it.
type StaticValidator interface {
	Validate(code string, plans map[string]models.TableActivityPlan, split *models.SchemaSplit) *models.ValidationVerdict
}

type staticValidator struct {
	logger *zap.Logger
}

// NewStaticValidator creates the validator.
func NewStaticValidator(logger *zap.Logger) StaticValidator {
	return &staticValidator{logger: logger.Named("static-validator")}
}

var (
	entrypointPattern     = regexp.MustCompile(`def deploy_complete_solution\s*\(([^)]*)\)`)
	nodeNamePattern       = regexp.MustCompile(`~>\s*(\w+)`)
	transformationPattern = regexp.MustCompile(`Transformation\(name=['"](\w+)['"]\)`)
	sinkListPattern       = regexp.MustCompile(`Sink\(name=['"](\w+)['"]`)
	emptyDerivePattern    = regexp.MustCompile(`derive\s*\(\s*\)\s*~>`)
	castBlockPattern      = regexp.MustCompile(`(?s)cast\s*\(output\((.*?)\)\s*,\s*errors`)
	castTypePattern       = regexp.MustCompile(`\bas\s+([A-Za-z_][A-Za-z0-9_]*(?:\(\s*\d+\s*,\s*\d+\s*\))?)`)
)

func (v *staticValidator) Validate(code string, plans map[string]models.TableActivityPlan, split *models.SchemaSplit) *models.ValidationVerdict {
	verdict := models.PassedVerdict()

	// (a) Well-formedness short-circuits.
	if err := checkWellFormed(code); err != nil {
		verdict.Passed = false
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("program is not well-formed: %v", err))
		verdict.Details["syntax_valid"] = false
		return verdict
	}
	verdict.Details["syntax_valid"] = true

	v.checkEntrypoint(code, verdict)
	v.checkChains(code, plans, split, verdict)
	v.checkForbiddenConstructs(code, verdict)
	v.checkSinkDisjointness(code, verdict)

	verdict.Passed = len(verdict.Issues) == 0
	if !verdict.Passed {
		v.logger.Info("validation failed",
			zap.Int("issues", len(verdict.Issues)))
	}
	return verdict
}

// checkWellFormed verifies balanced delimiters outside string literals,
// including triple-quoted blocks.
func checkWellFormed(code string) error {
	var stack []byte
	i := 0
	n := len(code)
	for i < n {
		// Triple-quoted blocks nest the dataflow script; their content
		// is checked through the dedicated battery, not here.
		if strings.HasPrefix(code[i:], `"""`) {
			end := strings.Index(code[i+3:], `"""`)
			if end < 0 {
				return fmt.Errorf("unterminated triple-quoted string")
			}
			i += end + 6
			continue
		}
		c := code[i]
		switch c {
		case '\'', '"':
			quote := c
			j := i + 1
			for j < n && code[j] != quote {
				if code[j] == '\\' {
					j++
				}
				j++
			}
			if j >= n {
				return fmt.Errorf("unterminated string literal")
			}
			i = j + 1
			continue
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 {
				return fmt.Errorf("unmatched %q", string(c))
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if (c == ')' && open != '(') || (c == ']' && open != '[') || (c == '}' && open != '{') {
				return fmt.Errorf("mismatched %q", string(c))
			}
		}
		i++
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", string(stack[len(stack)-1]))
	}
	return nil
}

// checkEntrypoint verifies the deployable entry point accepts the
// documented configuration parameters.
func (v *staticValidator) checkEntrypoint(code string, verdict *models.ValidationVerdict) {
	m := entrypointPattern.FindStringSubmatch(code)
	if m == nil {
		verdict.Issues = append(verdict.Issues, "missing deploy_complete_solution entry point")
		verdict.Details["entrypoint"] = false
		return
	}
	params := m[1]
	ok := true
	for _, required := range []string{"sql_config", "blob_config"} {
		if !strings.Contains(params, required) {
			verdict.Issues = append(verdict.Issues,
				fmt.Sprintf("deploy_complete_solution is missing the %s parameter", required))
			ok = false
		}
	}
	verdict.Details["entrypoint"] = ok
}

// checkChains verifies every table has its correctly named
// select/[aggregate]/[derive]/[cast]/sink chain with exact node counts,
// and that every plan's mapping is exhaustive against the split.
func (v *staticValidator) checkChains(code string, plans map[string]models.TableActivityPlan, split *models.SchemaSplit, verdict *models.ValidationVerdict) {
	present := make(map[string]bool)
	for _, m := range nodeNamePattern.FindAllStringSubmatch(code, -1) {
		present[m[1]] = true
	}

	var missing []string
	for _, table := range split.TableNames() {
		plan, ok := plans[table]
		if !ok {
			verdict.Issues = append(verdict.Issues, fmt.Sprintf("no plan for table %s", table))
			continue
		}

		expected := make([]models.NodeName, 0, len(plan.Steps)+1)
		for _, kind := range plan.Steps {
			expected = append(expected, models.NewNodeName(kind, table))
		}
		expected = append(expected, models.NewNodeName(models.StepSink, table))

		for _, name := range expected {
			if !present[string(name)] {
				verdict.Issues = append(verdict.Issues, fmt.Sprintf("missing node %s for table %s", name, table))
				missing = append(missing, string(name))
			}
		}

		columns, _ := split.TableColumns(table)
		verdict.Issues = append(verdict.Issues, plan.Validate(columns)...)
	}
	verdict.Details["missing_nodes"] = missing

	// Exact count parity: one select and one sink per table, one
	// aggregate per keyed dimension.
	tables := split.TableNames()
	aggregates := 0
	for _, table := range tables {
		plan := plans[table]
		if plan.HasStep(models.StepAggregate) {
			aggregates++
		}
	}
	counts := map[string]int{"select": 0, "aggregate": 0, "sink": 0}
	for name := range present {
		kind, _, ok := models.NodeName(name).Parse()
		if !ok {
			continue
		}
		switch kind {
		case models.StepSelect:
			counts["select"]++
		case models.StepAggregate:
			counts["aggregate"]++
		case models.StepSink:
			counts["sink"]++
		}
	}
	if counts["select"] != len(tables) {
		verdict.Issues = append(verdict.Issues,
			fmt.Sprintf("expected %d select nodes, found %d", len(tables), counts["select"]))
	}
	if counts["aggregate"] != aggregates {
		verdict.Issues = append(verdict.Issues,
			fmt.Sprintf("expected %d aggregate nodes, found %d", aggregates, counts["aggregate"]))
	}
	if counts["sink"] != len(tables) {
		verdict.Issues = append(verdict.Issues,
			fmt.Sprintf("expected %d sink nodes, found %d", len(tables), counts["sink"]))
	}
}

// checkForbiddenConstructs flags empty derive steps and any cast type
// token outside the closed canonical vocabulary.
func (v *staticValidator) checkForbiddenConstructs(code string, verdict *models.ValidationVerdict) {
	emptyDerive := emptyDerivePattern.MatchString(code)
	verdict.Details["empty_derive"] = emptyDerive
	if emptyDerive {
		verdict.Issues = append(verdict.Issues, "derive step with zero expressions")
	}

	var invalid []string
	for _, block := range castBlockPattern.FindAllStringSubmatch(code, -1) {
		for _, m := range castTypePattern.FindAllStringSubmatch(block[1], -1) {
			token := strings.ReplaceAll(m[1], " ", "")
			if !models.IsCanonicalType(token) {
				invalid = append(invalid, token)
				verdict.Issues = append(verdict.Issues,
					fmt.Sprintf("cast uses non-canonical type %q", token))
			}
		}
	}
	verdict.Details["invalid_cast_types"] = invalid
}

// checkSinkDisjointness enforces that sink names and transformation
// names are disjoint and that every sink is fed by a declared
// transformation.
func (v *staticValidator) checkSinkDisjointness(code string, verdict *models.ValidationVerdict) {
	transformations := make(map[string]bool)
	for _, m := range transformationPattern.FindAllStringSubmatch(code, -1) {
		transformations[m[1]] = true
	}

	var overlap []string
	for name := range transformations {
		if models.NodeName(name).IsSink() {
			overlap = append(overlap, name)
			verdict.Issues = append(verdict.Issues,
				fmt.Sprintf("sink name %s listed as a transformation", name))
		}
	}
	verdict.Details["sink_overlap"] = overlap

	for _, m := range sinkListPattern.FindAllStringSubmatch(code, -1) {
		if transformations[m[1]] {
			verdict.Issues = append(verdict.Issues,
				fmt.Sprintf("name %s appears in both sink and transformation listings", m[1]))
		}
	}
}
