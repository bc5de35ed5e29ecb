package services

import (
	"strings"

	"go.uber.org/zap"

	"github.com/dataloom-ai/dataloom-engine/pkg/models"
)

// ResourceNameAllocator derives stable, collision-free identifiers for
// every generated artifact from the table names and a run-scoped
// context keyword.
type ResourceNameAllocator interface {
	Allocate(split *models.SchemaSplit) *models.ResourceNames
}

type resourceNameAllocator struct {
	logger *zap.Logger
}

// NewResourceNameAllocator creates the allocator.
func NewResourceNameAllocator(logger *zap.Logger) ResourceNameAllocator {
	return &resourceNameAllocator{logger: logger.Named("resource-names")}
}

// Linked-service names are fixed across runs; the connections they
// describe do not depend on the dataset.
const (
	sqlLinkedServiceName  = "SQLLinkedServiceConnection"
	blobLinkedServiceName = "AzureBlobStorageConnection"
	transformDataflowName = "TransformToFactDimension"
)

// contextKeywords is scanned in order; the first keyword found as a
// substring of the joined column names becomes the run context.
var contextKeywords = []string{
	"hospital", "patient", "doctor", "healthcare", "medical", "clinic",
	"automobile", "vehicle", "car", "sales", "retail", "customer", "order",
}

// DeriveContextKeyword picks the domain keyword for a run from its
// column names. Defaults to "Data" when nothing matches.
func DeriveContextKeyword(columns []string) string {
	joined := strings.ToLower(strings.Join(columns, " "))
	for _, k := range contextKeywords {
		if strings.Contains(joined, k) {
			return models.TitleCase(k)
		}
	}
	return "Data"
}

func (a *resourceNameAllocator) Allocate(split *models.SchemaSplit) *models.ResourceNames {
	var allColumns []string
	for _, name := range split.DimensionNames() {
		allColumns = append(allColumns, split.Dimensions[name].Columns...)
	}
	allColumns = append(allColumns, split.Fact.Columns...)
	context := DeriveContextKeyword(allColumns)

	names := &models.ResourceNames{
		SQLLinkedService:  sqlLinkedServiceName,
		BlobLinkedService: blobLinkedServiceName,
		SourceDataset:     "Source" + context + "CSVDataset",
		StagingDataset:    "StagingUnion" + context + "CSVDataset",
		UnionDataflow:     "UnionAll" + context + "CSVs",
		TransformDataflow: transformDataflowName,
		Pipeline:          context + "CSVToSQLPipeline",
		TableDatasets:     make(map[string]string),
	}

	for _, table := range split.TableNames() {
		names.TableDatasets[table] = table + "Dataset"
	}

	a.logger.Debug("allocated resource names",
		zap.String("context", context),
		zap.Int("table_datasets", len(names.TableDatasets)))
	return names
}

// CleanColumnName replaces characters the dataflow syntax disallows in
// bare identifiers.
func CleanColumnName(col string) string {
	replacer := strings.NewReplacer(" ", "_", "-", "_", ".", "_")
	return replacer.Replace(col)
}
