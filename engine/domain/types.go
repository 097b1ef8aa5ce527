package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/vulnsight/cverag/pkg/fn"
)

// Section names produced by ingestion and by enrichment.
const (
	SectionDescription      = "description"
	SectionAffectedProducts = "affected_products"
	SectionReferences       = "references"
	SectionAttackScenario   = "attack_scenario"
	SectionMitigation       = "mitigation"
)

// SearchHit is one nearest-neighbour result: a single section of one vulnerability.
type SearchHit struct {
	Document        string   `json:"document"`
	VulnerabilityID string   `json:"vulnerability_id"`
	Severity        Severity `json:"severity"`
	Section         string   `json:"section"`
	Similarity      float64  `json:"similarity"`
}

// SimilarityFromDistance converts a cosine-space distance into a similarity
// rounded to 4 decimals.
func SimilarityFromDistance(distance float64) float64 {
	return math.Round((1-distance)*1e4) / 1e4
}

// SectionKind discriminates the two shapes a section entry can take.
type SectionKind int

const (
	// SectionRetrieved is evidence returned by the vector store.
	SectionRetrieved SectionKind = iota
	// SectionGenerated is text produced by the enrichment model.
	SectionGenerated
)

// Section is a tagged variant: retrieved evidence carries content and a
// similarity score, generated entries carry only text.
type Section struct {
	Kind       SectionKind
	Content    string
	Similarity float64
}

// Retrieved builds a retrieved section entry.
func Retrieved(content string, similarity float64) Section {
	return Section{Kind: SectionRetrieved, Content: content, Similarity: similarity}
}

// Generated builds a generated section entry.
func Generated(text string) Section {
	return Section{Kind: SectionGenerated, Content: text}
}

type retrievedJSON struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// MarshalJSON keeps the wire shape consumers already parse: retrieved sections
// are {"content","similarity"} objects, generated sections are bare strings.
func (s Section) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SectionRetrieved:
		return json.Marshal(retrievedJSON{Content: s.Content, Similarity: s.Similarity})
	case SectionGenerated:
		return json.Marshal(s.Content)
	default:
		return nil, fmt.Errorf("domain: unknown section kind %d", s.Kind)
	}
}

// UnmarshalJSON accepts either wire shape.
func (s *Section) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*s = Generated(text)
		return nil
	}
	var r retrievedJSON
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("domain: section: %w", err)
	}
	*s = Retrieved(r.Content, r.Similarity)
	return nil
}

// Sections is an insertion-ordered section-name -> entry mapping.
type Sections = fn.OrderedMap[Section]

// VulnerabilityRecord groups every surviving hit for one vulnerability id.
type VulnerabilityRecord struct {
	ID       string   `json:"-"`
	Severity Severity `json:"severity"`
	Sections Sections `json:"sections"`
}

// Add folds one hit into the record. Severity is last-writer-wins and a
// repeated section name overwrites the earlier entry in place.
func (r *VulnerabilityRecord) Add(h SearchHit) {
	r.Severity = h.Severity
	r.Sections.Set(h.Section, Retrieved(h.Document, h.Similarity))
}

// Merge folds enrichment output into the record's sections. Enrichment keys
// overwrite retrieved sections sharing the same name.
func (r *VulnerabilityRecord) Merge(e EnrichmentResult) {
	e.Each(func(k, v string) {
		r.Sections.Set(k, Generated(v))
	})
}

// RecordSet is an insertion-ordered vulnerability id -> record mapping.
type RecordSet struct {
	m fn.OrderedMap[*VulnerabilityRecord]
}

// NewRecordSet returns an empty RecordSet.
func NewRecordSet() *RecordSet { return &RecordSet{} }

// Get returns the record for id.
func (s *RecordSet) Get(id string) (*VulnerabilityRecord, bool) { return s.m.Get(id) }

// GetOrCreate returns the record for id, creating it on first sight.
func (s *RecordSet) GetOrCreate(id string) *VulnerabilityRecord {
	if rec, ok := s.m.Get(id); ok {
		return rec
	}
	rec := &VulnerabilityRecord{ID: id}
	s.m.Set(id, rec)
	return rec
}

// IDs returns vulnerability ids in first-seen order.
func (s *RecordSet) IDs() []string { return s.m.Keys() }

// Len returns the number of records.
func (s *RecordSet) Len() int { return s.m.Len() }

// Records returns the records in first-seen order.
func (s *RecordSet) Records() []*VulnerabilityRecord {
	out := make([]*VulnerabilityRecord, 0, s.m.Len())
	s.m.Each(func(_ string, r *VulnerabilityRecord) { out = append(out, r) })
	return out
}

// MarshalJSON encodes the set as {"<id>": {"severity":..., "sections":{...}}}.
func (s *RecordSet) MarshalJSON() ([]byte, error) {
	return s.m.MarshalJSON()
}
