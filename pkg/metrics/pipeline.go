package metrics

// Pipeline holds the query pipeline's metrics, registered on one Registry.
type Pipeline struct {
	reg *Registry

	SearchRequests *Counter
	SearchErrors   *Counter
	SearchDuration *Histogram
	SearchRecords  *Histogram
	EnrichInflight *Gauge
	IngestPoints   *Counter
}

// NewPipeline registers the pipeline metrics on reg.
func NewPipeline(reg *Registry) *Pipeline {
	return &Pipeline{
		reg:            reg,
		SearchRequests: reg.Counter("cverag_search_requests_total", "Search requests received"),
		SearchErrors:   reg.Counter("cverag_search_errors_total", "Search requests that failed upstream"),
		SearchDuration: reg.Histogram("cverag_search_duration_seconds", "End-to-end search latency", nil),
		SearchRecords:  reg.Histogram("cverag_search_records", "Vulnerability records returned per search", []float64{0, 1, 2, 5, 10}),
		EnrichInflight: reg.Gauge("cverag_enrich_inflight", "Model calls currently in flight"),
		IngestPoints:   reg.Counter("cverag_ingest_points_total", "Section points written to the vector store"),
	}
}

// EnrichOutcome returns the counter for one enrichment outcome
// (brace_scan, recovered, degraded, error, canceled).
func (p *Pipeline) EnrichOutcome(outcome string) *Counter {
	return p.reg.Counter(WithLabels("cverag_enrich_outcomes_total", "outcome", outcome), "Enrichment results by parse outcome")
}

// HTTPRequest returns the request counter for one route and status class.
func (p *Pipeline) HTTPRequest(route, status string) *Counter {
	return p.reg.Counter(WithLabels("cverag_http_requests_total", "route", route, "status", status), "HTTP requests served")
}
