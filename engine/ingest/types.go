package ingest

import (
	"github.com/vulnsight/cverag/engine/domain"
	"github.com/vulnsight/cverag/engine/nvd"
)

// SectionDoc is one embeddable section of one vulnerability.
type SectionDoc struct {
	PointID         string
	VulnerabilityID string
	Severity        domain.Severity
	Section         string
	Text            string
}

// SplitDoc is a dataset entry broken into its non-empty sections.
type SplitDoc struct {
	Entry    nvd.Entry
	Sections []SectionDoc
}

// EmbeddedDoc is a split entry with one embedding per section.
type EmbeddedDoc struct {
	SplitDoc
	Embeddings [][]float32
}

// Stored is the outcome of ingesting one entry.
type Stored struct {
	ID     string
	Points int
}

// Report summarises a bulk ingest run.
type Report struct {
	Entries int `json:"entries"`
	Points  int `json:"points"`
	Failed  int `json:"failed"`
}
