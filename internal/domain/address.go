package domain

import (
	"strings"
)

// Address is a mailing address submitted for a permit search
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip,omitempty"`
	County string `json:"county,omitempty"`
}

// OneLine renders the address the way geocoders expect it
func (a Address) OneLine() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}

	tail := strings.TrimSpace(strings.TrimSpace(a.State) + " " + strings.TrimSpace(a.Zip))
	if tail != "" {
		parts = append(parts, tail)
	}

	return strings.Join(parts, ", ")
}

// Location is the geocoded position of an address
type Location struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	MatchedAddress string  `json:"matched_address,omitempty"`
	County         string  `json:"county,omitempty"`
	Place          string  `json:"place,omitempty"`
}
