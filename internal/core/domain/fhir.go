package domain

import (
	"encoding/json"
	"strings"
)

// DefaultResourceTypes is the DSTU2 resource list mirrored when none is configured
var DefaultResourceTypes = []string{
	"Patient",
	"AllergyIntolerance",
	"Condition",
	"Encounter",
	"Immunization",
	"MedicationOrder",
	"MedicationStatement",
	"Observation",
	"Procedure",
	"DiagnosticReport",
	"CarePlan",
}

// Bundle is a page of search results from the source aggregator.
// Link is kept raw so a malformed link array never fails the page.
type Bundle struct {
	ResourceType string          `json:"resourceType"`
	Type         string          `json:"type,omitempty"`
	Total        int             `json:"total,omitempty"`
	Entry        []BundleEntry   `json:"entry"`
	Link         json.RawMessage `json:"link,omitempty"`
}

// BundleEntry points at one matched resource
type BundleEntry struct {
	FullURL  string          `json:"fullUrl"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// BundleLink is one pagination link
type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Links decodes the link array, returning nil when it is missing or malformed
func (b *Bundle) Links() []BundleLink {
	if b == nil || len(b.Link) == 0 {
		return nil
	}
	var links []BundleLink
	if err := json.Unmarshal(b.Link, &links); err != nil {
		return nil
	}
	return links
}

// NextURL returns the URL of the first "next" link, or "" on the last page
func (b *Bundle) NextURL() string {
	for _, l := range b.Links() {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// Resource is a single fetched FHIR record
type Resource struct {
	ResourceType string
	ID           string
	Body         []byte
}

type resourceHeader struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

// ParseResource reads the type and id out of a raw resource body.
// fullURL is used for the id when the body carries none.
func ParseResource(body []byte, fullURL string) (*Resource, error) {
	var h resourceHeader
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, err
	}
	if h.ID == "" {
		h.ID = lastPathSegment(fullURL)
	}
	return &Resource{
		ResourceType: h.ResourceType,
		ID:           h.ID,
		Body:         body,
	}, nil
}

func lastPathSegment(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}
