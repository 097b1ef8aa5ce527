package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/vulnsight/cverag/pkg/repo"
)

// GraphStore provides graph operations on top of the generic Neo4j repository.
type GraphStore struct {
	sessions repo.Sessions
	vulns    *repo.Neo4jRepo[Vulnerability, string]
	products *repo.Neo4jRepo[Product, string]
}

// New creates a GraphStore on driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return NewWithSessions(repo.DriverSessions(driver))
}

// NewWithSessions creates a GraphStore on an arbitrary session source.
func NewWithSessions(sessions repo.Sessions) *GraphStore {
	return &GraphStore{
		sessions: sessions,
		vulns:    newVulnerabilityRepo(sessions),
		products: newProductRepo(sessions),
	}
}

// GetVulnerability returns a vulnerability node by CVE id.
func (g *GraphStore) GetVulnerability(ctx context.Context, id string) (Vulnerability, error) {
	return g.vulns.Get(ctx, id)
}

// ListVulnerabilities returns vulnerability nodes, optionally of one severity.
func (g *GraphStore) ListVulnerabilities(ctx context.Context, severity string, limit int) ([]Vulnerability, error) {
	opts := repo.ListOpts{Limit: limit}
	if severity != "" {
		opts.Filter = map[string]any{"severity": severity}
	}
	return g.vulns.List(ctx, opts)
}

// SaveVulnerability merges the vulnerability, its products and the AFFECTS
// edges between them. Saving the same input twice leaves the graph unchanged.
func (g *GraphStore) SaveVulnerability(ctx context.Context, v Vulnerability, products []Product) error {
	if err := g.vulns.Upsert(ctx, v); err != nil {
		return fmt.Errorf("graph: save %s: %w", v.ID, err)
	}
	if len(products) == 0 {
		return nil
	}

	for _, p := range products {
		if err := g.products.Upsert(ctx, p); err != nil {
			return fmt.Errorf("graph: save product %s: %w", p.CPE, err)
		}
	}

	cpes := make([]string, len(products))
	for i, p := range products {
		cpes[i] = p.CPE
	}
	sess := g.sessions(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (v:Vulnerability {id: $id})
		UNWIND $cpes AS cpe
		MATCH (p:Product {cpe: cpe})
		MERGE (v)-[:AFFECTS]->(p)`
	if _, err := sess.Run(ctx, cypher, map[string]any{"id": v.ID, "cpes": cpes}); err != nil {
		return fmt.Errorf("graph: link %s: %w", v.ID, err)
	}
	return nil
}

// DeleteVulnerability removes a vulnerability node and its edges. Products
// stay, since other vulnerabilities may affect them.
func (g *GraphStore) DeleteVulnerability(ctx context.Context, id string) error {
	return g.vulns.Delete(ctx, id)
}

// AffectedProducts lists the products a vulnerability affects.
func (g *GraphStore) AffectedProducts(ctx context.Context, id string) ([]Product, error) {
	sess := g.sessions(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (:Vulnerability {id: $id})-[:AFFECTS]->(n:Product) RETURN n ORDER BY n.cpe`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	var out []Product
	for result.Next(ctx) {
		p, err := productFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// VulnerabilitiesByVendor lists vulnerabilities affecting any product of vendor.
func (g *GraphStore) VulnerabilitiesByVendor(ctx context.Context, vendor string) ([]Vulnerability, error) {
	sess := g.sessions(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Vulnerability)-[:AFFECTS]->(:Product {vendor: $vendor}) RETURN DISTINCT n ORDER BY n.id`
	result, err := sess.Run(ctx, cypher, map[string]any{"vendor": vendor})
	if err != nil {
		return nil, err
	}
	var out []Vulnerability
	for result.Next(ctx) {
		v, err := vulnerabilityFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Stats returns node and edge counts.
func (g *GraphStore) Stats(ctx context.Context) (Stats, error) {
	sess := g.sessions(ctx)
	defer sess.Close(ctx)

	cypher := `CALL { MATCH (v:Vulnerability) RETURN count(v) AS vulnerabilities }
		CALL { MATCH (p:Product) RETURN count(p) AS products }
		CALL { MATCH ()-[r:AFFECTS]->() RETURN count(r) AS affects }
		RETURN vulnerabilities, products, affects`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return Stats{}, err
	}
	if !result.Next(ctx) {
		return Stats{}, nil
	}
	rec := result.Record()
	var s Stats
	s.Vulnerabilities = intProp(rec, "vulnerabilities")
	s.Products = intProp(rec, "products")
	s.Affects = intProp(rec, "affects")
	return s, nil
}

func intProp(rec *neo4j.Record, key string) int64 {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return n
}
