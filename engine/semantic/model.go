package semantic

// Payload keys written by ingestion and read back on search.
const (
	KeyDocument        = "document"
	KeyVulnerabilityID = "vulnerability_id"
	KeySeverity        = "severity"
	KeySection         = "section"
)

// Hit is a single nearest-neighbour result. Distance is in cosine space, so
// 1 - Distance is the similarity.
type Hit struct {
	ID       string            `json:"id"`
	Document string            `json:"document"`
	Meta     map[string]string `json:"meta"`
	Distance float64           `json:"distance"`
}

// VectorRecord represents a single vector to store.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // document, vulnerability_id, severity, section
}
