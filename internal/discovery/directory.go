package discovery

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// SourceDirectory marks jurisdictions resolved from the directory file
const SourceDirectory = "directory"

// DirectoryEntry is one jurisdiction in the directory file
type DirectoryEntry struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	State     string `yaml:"state"`
	City      string `yaml:"city"`
	County    string `yaml:"county"`
	Website   string `yaml:"website"`
	PermitURL string `yaml:"permit_url"`
	Contact   struct {
		Phone   string `yaml:"phone"`
		Email   string `yaml:"email"`
		Address string `yaml:"address"`
	} `yaml:"contact"`
	Hours string `yaml:"hours"`
}

type directoryFile struct {
	Jurisdictions []DirectoryEntry `yaml:"jurisdictions"`
}

// Directory is an in-memory index of known jurisdictions
type Directory struct {
	byCity   map[string]DirectoryEntry
	byCounty map[string]DirectoryEntry
}

// LoadDirectory reads a directory YAML file
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read jurisdiction directory: %w", err)
	}
	return ParseDirectory(data)
}

// ParseDirectory builds a directory from YAML. City entries are indexed by state+city,
// county entries (no city) by state+county.
func ParseDirectory(data []byte) (*Directory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse jurisdiction directory: %w", err)
	}

	d := &Directory{
		byCity:   make(map[string]DirectoryEntry),
		byCounty: make(map[string]DirectoryEntry),
	}
	for i, e := range file.Jurisdictions {
		if e.Name == "" || e.State == "" {
			return nil, fmt.Errorf("jurisdiction %d: name and state are required", i)
		}
		if e.City == "" && e.County == "" {
			return nil, fmt.Errorf("jurisdiction %q: city or county is required", e.Name)
		}

		state := NormalizeState(e.State)
		if e.City != "" {
			d.byCity[key(state, e.City)] = e
		} else {
			d.byCounty[key(state, e.County)] = e
		}
	}

	return d, nil
}

// Len returns the number of indexed jurisdictions
func (d *Directory) Len() int {
	return len(d.byCity) + len(d.byCounty)
}

// LookupCity finds the jurisdiction for a city
func (d *Directory) LookupCity(state, city string) (*domain.Jurisdiction, bool) {
	if city == "" {
		return nil, false
	}
	e, ok := d.byCity[key(NormalizeState(state), city)]
	if !ok {
		return nil, false
	}
	return e.toJurisdiction(), true
}

// LookupCounty finds the jurisdiction for a county
func (d *Directory) LookupCounty(state, county string) (*domain.Jurisdiction, bool) {
	if county == "" {
		return nil, false
	}
	e, ok := d.byCounty[key(NormalizeState(state), county)]
	if !ok {
		return nil, false
	}
	return e.toJurisdiction(), true
}

func (e DirectoryEntry) toJurisdiction() *domain.Jurisdiction {
	jType := e.Type
	if jType == "" {
		jType = "city"
		if e.City == "" {
			jType = "county"
		}
	}

	return &domain.Jurisdiction{
		Name:      e.Name,
		Type:      jType,
		State:     NormalizeState(e.State),
		Website:   e.Website,
		PermitURL: e.PermitURL,
		ContactInfo: domain.ContactInfo{
			Phone:   e.Contact.Phone,
			Email:   e.Contact.Email,
			Address: e.Contact.Address,
			Hours:   e.Hours,
		},
		Hours:  e.Hours,
		Source: SourceDirectory,
	}
}

func key(state, name string) string {
	return NormalizeState(state) + "|" + normalizeName(name)
}
