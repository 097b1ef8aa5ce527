// Package graph projects collected vulnerabilities into a Neo4j knowledge
// graph of (:Vulnerability)-[:AFFECTS]->(:Product) edges.
package graph

import "strings"

// Vulnerability is a CVE node.
type Vulnerability struct {
	ID          string `json:"id"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// Product is a CPE-identified product node.
type Product struct {
	CPE     string `json:"cpe"`
	Part    string `json:"part,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// ParseCPE splits a CPE 2.3 formatted string
// (cpe:2.3:part:vendor:product:version:...) into a Product. Strings that are
// not CPE 2.3 keep only the CPE field.
func ParseCPE(cpe string) Product {
	p := Product{CPE: cpe}
	fields := strings.Split(cpe, ":")
	if len(fields) < 5 || fields[0] != "cpe" || fields[1] != "2.3" {
		return p
	}
	p.Part = fields[2]
	p.Vendor = fields[3]
	p.Name = fields[4]
	if len(fields) > 5 && fields[5] != "*" && fields[5] != "-" {
		p.Version = fields[5]
	}
	return p
}

// Stats are node and edge counts for the whole graph.
type Stats struct {
	Vulnerabilities int64 `json:"vulnerabilities"`
	Products        int64 `json:"products"`
	Affects         int64 `json:"affects"`
}
