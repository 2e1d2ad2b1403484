package domain

import "time"

// ContactInfo holds the ways to reach a permit office
type ContactInfo struct {
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
	Hours   string `json:"hours,omitempty"`
}

// Merge fills empty fields from other; existing values win
func (c ContactInfo) Merge(other ContactInfo) ContactInfo {
	if c.Phone == "" {
		c.Phone = other.Phone
	}
	if c.Email == "" {
		c.Email = other.Email
	}
	if c.Address == "" {
		c.Address = other.Address
	}
	if c.Hours == "" {
		c.Hours = other.Hours
	}
	return c
}

// IsEmpty reports whether no contact channel is known
func (c ContactInfo) IsEmpty() bool {
	return c.Phone == "" && c.Email == "" && c.Address == ""
}

// Jurisdiction is the municipal or county body governing permits for an address
type Jurisdiction struct {
	Name        string      `json:"name"`
	Type        string      `json:"type,omitempty"`
	State       string      `json:"state,omitempty"`
	Website     string      `json:"website,omitempty"`
	PermitURL   string      `json:"permit_url,omitempty"`
	ContactInfo ContactInfo `json:"contact_info"`
	Hours       string      `json:"hours,omitempty"`
	Source      string      `json:"source,omitempty"`
	Location    *Location   `json:"location,omitempty"`
}

// Permit is one permit type offered by a jurisdiction
type Permit struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Required       bool   `json:"required"`
	ProcessingTime string `json:"processing_time,omitempty"`
	Fee            string `json:"fee,omitempty"`
	URL            string `json:"url,omitempty"`
}

// Fee is a charge listed in a jurisdiction's fee schedule
type Fee struct {
	Name        string  `json:"name"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
}

// PermitData is the structured output of permit extraction
type PermitData struct {
	Permits []Permit    `json:"permits"`
	Fees    []Fee       `json:"fees,omitempty"`
	Contact ContactInfo `json:"contact"`
	Notes   string      `json:"notes,omitempty"`
}

// ResultSource tells callers whether permit data is real or a fallback
type ResultSource string

// Result sources
const (
	ResultSourceExtracted   ResultSource = "extracted"
	ResultSourcePlaceholder ResultSource = "placeholder"
)

// PlaceholderPermitName is the single permit reported when extraction is unavailable
const PlaceholderPermitName = "Contact jurisdiction for permit types"

// SearchResponse is the result of a completed permit search
type SearchResponse struct {
	Address      Address           `json:"address"`
	Jurisdiction Jurisdiction      `json:"jurisdiction"`
	Permits      []Permit          `json:"permits"`
	Fees         []Fee             `json:"fees,omitempty"`
	Source       ResultSource      `json:"source"`
	Notes        string            `json:"notes,omitempty"`
	ScrapedURLs  []string          `json:"scraped_urls,omitempty"`
	Validation   *ValidationResult `json:"validation,omitempty"`
	GeneratedAt  time.Time         `json:"generated_at"`
}
