package models

import "sort"

// ResourceNames holds the stable identifiers allocated for every
// generated artifact of one run.
type ResourceNames struct {
	SQLLinkedService  string `json:"sql_linked_service" yaml:"sql_linked_service"`
	BlobLinkedService string `json:"blob_linked_service" yaml:"blob_linked_service"`
	SourceDataset     string `json:"source_dataset" yaml:"source_dataset"`
	StagingDataset    string `json:"staging_dataset" yaml:"staging_dataset"`
	UnionDataflow     string `json:"union_dataflow" yaml:"union_dataflow"`
	TransformDataflow string `json:"transform_dataflow" yaml:"transform_dataflow"`
	Pipeline          string `json:"pipeline" yaml:"pipeline"`

	// TableDatasets maps each produced table to its sink dataset name.
	TableDatasets map[string]string `json:"table_datasets" yaml:"table_datasets"`
}

// DatasetTables returns the tables with allocated datasets in sorted
// order.
func (r *ResourceNames) DatasetTables() []string {
	tables := make([]string, 0, len(r.TableDatasets))
	for t := range r.TableDatasets {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// GenerationManifest summarizes one generation run. Serialized as YAML
// next to the emitted script.
type GenerationManifest struct {
	RunID        string         `yaml:"run_id"`
	SourceFile   string         `yaml:"source_file"`
	Context      string         `yaml:"context"`
	Dimensions   []string       `yaml:"dimensions"`
	FactTable    string         `yaml:"fact_table"`
	Attempts     int            `yaml:"attempts"`
	Passed       bool           `yaml:"passed"`
	Issues       []string       `yaml:"issues,omitempty"`
	UsedFallback bool           `yaml:"used_fallback"`
	Resources    *ResourceNames `yaml:"resources"`
}
