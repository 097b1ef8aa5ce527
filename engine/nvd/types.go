package nvd

import "github.com/vulnsight/cverag/engine/domain"

// NotSpecified fills affected_products when NVD lists no CPE criteria.
const NotSpecified = "Not specified"

// Entry is one vulnerability in the collected dataset.
type Entry struct {
	ID       string          `json:"id"`
	Severity domain.Severity `json:"severity"`
	Sections Sections        `json:"sections"`
}

// Sections holds the text ingested per vulnerability.
type Sections struct {
	Description      string   `json:"description"`
	AffectedProducts []string `json:"affected_products"`
	References       []string `json:"references"`
}

// cveResponse is the subset of the NVD CVE API 2.0 response we read.
type cveResponse struct {
	ResultsPerPage int `json:"resultsPerPage"`
	StartIndex     int `json:"startIndex"`
	TotalResults   int `json:"totalResults"`

	Vulnerabilities []struct {
		CVE cveItem `json:"cve"`
	} `json:"vulnerabilities"`
}

type cveItem struct {
	ID           string `json:"id"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics struct {
		CVSSMetricV31 []struct {
			CVSSData struct {
				BaseSeverity string `json:"baseSeverity"`
			} `json:"cvssData"`
		} `json:"cvssMetricV31"`
	} `json:"metrics"`
	References []struct {
		URL string `json:"url"`
	} `json:"references"`
	Configurations []struct {
		Nodes []struct {
			CPEMatch []struct {
				Criteria string `json:"criteria"`
			} `json:"cpeMatch"`
		} `json:"nodes"`
	} `json:"configurations"`
}

func (c cveItem) toEntry() Entry {
	e := Entry{ID: c.ID, Severity: domain.SeverityUnknown}
	for _, d := range c.Descriptions {
		if d.Lang == "en" {
			e.Sections.Description = d.Value
			break
		}
	}
	if len(c.Metrics.CVSSMetricV31) > 0 {
		if sev := c.Metrics.CVSSMetricV31[0].CVSSData.BaseSeverity; sev != "" {
			e.Severity = domain.ParseSeverity(sev)
		}
	}
	for _, r := range c.References {
		if r.URL != "" {
			e.Sections.References = append(e.Sections.References, r.URL)
		}
	}
	for _, cfg := range c.Configurations {
		for _, n := range cfg.Nodes {
			for _, m := range n.CPEMatch {
				if m.Criteria != "" {
					e.Sections.AffectedProducts = append(e.Sections.AffectedProducts, m.Criteria)
				}
			}
		}
	}
	if len(e.Sections.AffectedProducts) == 0 {
		e.Sections.AffectedProducts = []string{NotSpecified}
	}
	if e.Sections.References == nil {
		e.Sections.References = []string{}
	}
	return e
}
