package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/vulnsight/cverag/pkg/repo"
)

const (
	labelVulnerability = "Vulnerability"
	labelProduct       = "Product"
)

func newVulnerabilityRepo(sessions repo.Sessions) *repo.Neo4jRepo[Vulnerability, string] {
	return repo.NewNeo4jRepo[Vulnerability, string](sessions, labelVulnerability, vulnerabilityToMap, vulnerabilityFromRecord)
}

func newProductRepo(sessions repo.Sessions) *repo.Neo4jRepo[Product, string] {
	return repo.NewNeo4jRepo[Product, string](sessions, labelProduct, productToMap, productFromRecord,
		repo.WithIDKey[Product, string]("cpe"))
}

func vulnerabilityToMap(v Vulnerability) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"severity":    v.Severity,
		"description": v.Description,
	}
}

func productToMap(p Product) map[string]any {
	return map[string]any{
		"cpe":     p.CPE,
		"part":    p.Part,
		"vendor":  p.Vendor,
		"name":    p.Name,
		"version": p.Version,
	}
}

func vulnerabilityFromRecord(rec *neo4j.Record) (Vulnerability, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Vulnerability{}, err
	}
	return vulnerabilityFromProps(node.Props), nil
}

func productFromRecord(rec *neo4j.Record) (Product, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Product{}, err
	}
	return productFromProps(node.Props), nil
}

func vulnerabilityFromProps(props map[string]any) Vulnerability {
	return Vulnerability{
		ID:          strProp(props, "id"),
		Severity:    strProp(props, "severity"),
		Description: strProp(props, "description"),
	}
}

func productFromProps(props map[string]any) Product {
	return Product{
		CPE:     strProp(props, "cpe"),
		Part:    strProp(props, "part"),
		Vendor:  strProp(props, "vendor"),
		Name:    strProp(props, "name"),
		Version: strProp(props, "version"),
	}
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
