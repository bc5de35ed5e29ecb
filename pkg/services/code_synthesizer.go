package services

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// CodeSynthesizer renders the transform graph plus resource names into
// the textual deployment program for the target orchestration service.
// Rendering is deterministic: the same graph and names produce
// byte-identical output.
type CodeSynthesizer interface {
	Render(graph *models.TransformGraph, plans map[string]models.TableActivityPlan, names *models.ResourceNames) string
}

type codeSynthesizer struct {
	logger *zap.Logger
}

// NewCodeSynthesizer creates the synthesizer.
func NewCodeSynthesizer(logger *zap.Logger) CodeSynthesizer {
	return &codeSynthesizer{logger: logger.Named("code-synthesizer")}
}

const sinkOptions = `allowSchemaDrift: true,
	validateSchema: false,
	deletable:false,
	insertable:true,
	updateable:false,
	upsertable:false,
	format: 'table',
	skipDuplicateMapInputs: true,
	skipDuplicateMapOutputs: true,
	errorHandlingOption: 'stopOnFirstError'`

func (s *codeSynthesizer) Render(graph *models.TransformGraph, plans map[string]models.TableActivityPlan, names *models.ResourceNames) string {
	var b strings.Builder

	b.WriteString("from pipeline_sdk import Dataflow, Pipeline, Sink, Transformation\n\n\n")
	b.WriteString("def deploy_complete_solution(sql_config, blob_config):\n")
	b.WriteString("    \"\"\"Deploy the generated datasets, dataflows and pipeline.\"\"\"\n")

	s.renderTransformations(&b, graph)
	s.renderSinks(&b, graph, names)

	b.WriteString("    transform_script = \"\"\"")
	s.renderScript(&b, graph, plans)
	b.WriteString("\"\"\"\n\n")

	fmt.Fprintf(&b, "    dataflow = Dataflow(name='%s', script=transform_script,\n", names.TransformDataflow)
	b.WriteString("                        transformations=transformations, sinks=sinks)\n")
	fmt.Fprintf(&b, "    pipeline = Pipeline(name='%s', dataflows=[dataflow],\n", names.Pipeline)
	fmt.Fprintf(&b, "                        sql_linked_service='%s',\n", names.SQLLinkedService)
	fmt.Fprintf(&b, "                        blob_linked_service='%s',\n", names.BlobLinkedService)
	fmt.Fprintf(&b, "                        source_dataset='%s',\n", names.SourceDataset)
	fmt.Fprintf(&b, "                        staging_dataset='%s')\n", names.StagingDataset)
	b.WriteString("    return pipeline.deploy(sql_config=sql_config, blob_config=blob_config)\n")

	code := b.String()
	s.logger.Debug("rendered deployment program",
		zap.Int("bytes", len(code)),
		zap.Int("nodes", len(graph.Nodes)))
	return code
}

// renderTransformations lists every non-sink node. Sink names must
// never appear here; the two listings are disjoint by contract.
func (s *codeSynthesizer) renderTransformations(b *strings.Builder, graph *models.TransformGraph) {
	b.WriteString("    transformations = [\n")
	for _, name := range graph.TransformationNames() {
		fmt.Fprintf(b, "        Transformation(name='%s'),\n", name)
	}
	b.WriteString("    ]\n")
}

func (s *codeSynthesizer) renderSinks(b *strings.Builder, graph *models.TransformGraph, names *models.ResourceNames) {
	b.WriteString("    sinks = [\n")
	for _, node := range graph.Nodes {
		if node.Kind != models.StepSink {
			continue
		}
		dataset := names.TableDatasets[node.OwningTable]
		fmt.Fprintf(b, "        Sink(name='%s', dataset='%s'),\n", node.Name, dataset)
	}
	b.WriteString("    ]\n")
}

// renderScript emits the dataflow script: one source declaration
// enumerating every referenced column, then each table's chain in step
// order. Chains never interleave.
func (s *codeSynthesizer) renderScript(b *strings.Builder, graph *models.TransformGraph, plans map[string]models.TableActivityPlan) {
	s.renderSource(b, graph, plans)

	for _, node := range graph.Nodes {
		plan := plans[node.OwningTable]
		switch node.Kind {
		case models.StepSelect:
			s.renderSelect(b, node, &plan)
		case models.StepAggregate:
			s.renderAggregate(b, node, &plan)
		case models.StepDerive:
			s.renderDerive(b, node, &plan)
		case models.StepCast:
			s.renderCast(b, node, &plan)
		case models.StepSink:
			s.renderSink(b, node)
		}
	}
}

func (s *codeSynthesizer) renderSource(b *strings.Builder, graph *models.TransformGraph, plans map[string]models.TableActivityPlan) {
	seen := make(map[string]bool)
	var columns []string
	for _, node := range graph.Nodes {
		plan := plans[node.OwningTable]
		for _, col := range plan.MappedColumns() {
			clean := CleanColumnName(col)
			if !seen[clean] {
				seen[clean] = true
				columns = append(columns, clean)
			}
		}
	}

	b.WriteString("\nsource(output(\n")
	for i, col := range columns {
		sep := ","
		if i == len(columns)-1 {
			sep = ""
		}
		fmt.Fprintf(b, "\t\t%s as string%s\n", col, sep)
	}
	b.WriteString("\t),\n")
	b.WriteString("\tallowSchemaDrift: true,\n")
	b.WriteString("\tvalidateSchema: false,\n")
	fmt.Fprintf(b, "\tignoreNoFilesFound: false) ~> %s\n", graph.Source)
}

func (s *codeSynthesizer) renderSelect(b *strings.Builder, node models.TransformNode, plan *models.TableActivityPlan) {
	fmt.Fprintf(b, "%s select(mapColumn(\n", node.Upstream)
	cols := plan.MappedColumns()
	for i, col := range cols {
		src := CleanColumnName(col)
		dst := CleanColumnName(plan.ColumnMapping[col])
		sep := ","
		if i == len(cols)-1 {
			sep = ""
		}
		if dst == src {
			fmt.Fprintf(b, "\t\t%s%s\n", src, sep)
		} else {
			fmt.Fprintf(b, "\t\t%s = %s%s\n", dst, src, sep)
		}
	}
	b.WriteString("\t),\n")
	b.WriteString("\tskipDuplicateMapInputs: true,\n")
	fmt.Fprintf(b, "\tskipDuplicateMapOutputs: true) ~> %s\n", node.Name)
}

// Steps downstream of the select see the stream under the mapped output
// names, so aggregate, derive and cast all address columns through
// plan.Target.
func (s *codeSynthesizer) renderAggregate(b *strings.Builder, node models.TransformNode, plan *models.TableActivityPlan) {
	fmt.Fprintf(b, "%s aggregate(groupBy(%s),\n", node.Upstream, CleanColumnName(plan.Target(plan.AggregateKey)))
	cols := plan.AggregateColumns()
	for i, col := range cols {
		clean := CleanColumnName(plan.Target(col))
		sep := ","
		if i == len(cols)-1 {
			sep = ""
		}
		fmt.Fprintf(b, "\t%s = first(%s)%s\n", clean, clean, sep)
	}
	fmt.Fprintf(b, "\t) ~> %s\n", node.Name)
}

func (s *codeSynthesizer) renderDerive(b *strings.Builder, node models.TransformNode, plan *models.TableActivityPlan) {
	fmt.Fprintf(b, "%s derive(\n", node.Upstream)
	cols := sortedKeys(plan.DeriveColumns)
	for i, col := range cols {
		sep := ","
		if i == len(cols)-1 {
			sep = ""
		}
		src := CleanColumnName(col)
		dst := CleanColumnName(plan.Target(col))
		expr := plan.DeriveColumns[col]
		if dst != src {
			expr = renameIdentifier(expr, src, dst)
		}
		fmt.Fprintf(b, "\t%s = %s%s\n", dst, expr, sep)
	}
	fmt.Fprintf(b, "\t) ~> %s\n", node.Name)
}

// renderCast emits canonical type tokens only; declared source types
// never leak into the script.
func (s *codeSynthesizer) renderCast(b *strings.Builder, node models.TransformNode, plan *models.TableActivityPlan) {
	fmt.Fprintf(b, "%s cast(output(\n", node.Upstream)
	cols := sortedKeys(plan.CastColumns)
	for i, col := range cols {
		sep := ","
		if i == len(cols)-1 {
			sep = ""
		}
		fmt.Fprintf(b, "\t\t%s as %s%s\n", CleanColumnName(plan.Target(col)), plan.CastColumns[col], sep)
	}
	b.WriteString("\t),\n")
	fmt.Fprintf(b, "\terrors: true) ~> %s\n", node.Name)
}

// renameIdentifier rewrites whole-word references to a renamed column
// inside a derive expression.
func renameIdentifier(expr, src, dst string) string {
	pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(src) + `\b`)
	return pattern.ReplaceAllString(expr, dst)
}

func (s *codeSynthesizer) renderSink(b *strings.Builder, node models.TransformNode) {
	fmt.Fprintf(b, "%s sink(%s) ~> %s\n", node.Upstream, sinkOptions, node.Name)
}
