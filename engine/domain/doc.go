// Package domain defines the vulnerability types that flow through the
// retrieval and enrichment pipeline, plus validation for incoming queries.
package domain
