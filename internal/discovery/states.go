package discovery

import "strings"

var stateAbbreviations = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "district of columbia": "DC",
	"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID", "illinois": "IL",
	"indiana": "IN", "iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI", "minnesota": "MN",
	"mississippi": "MS", "missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC", "south dakota": "SD",
	"tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT", "virginia": "VA",
	"washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"puerto rico": "PR",
}

// NormalizeState returns the two-letter code for a state name or code
func NormalizeState(state string) string {
	s := strings.TrimSpace(state)
	if len(s) == 2 {
		return strings.ToUpper(s)
	}
	if abbr, ok := stateAbbreviations[strings.ToLower(s)]; ok {
		return abbr
	}
	return strings.ToUpper(s)
}

// normalizeName lowercases a place name and strips the suffixes geocoders append
func normalizeName(name string) string {
	n := strings.ToLower(strings.Join(strings.Fields(name), " "))
	for _, suffix := range []string{" county", " parish", " borough", " city", " town", " village", " cdp"} {
		n = strings.TrimSuffix(n, suffix)
	}
	n = strings.TrimPrefix(n, "city of ")
	n = strings.TrimPrefix(n, "town of ")
	return strings.TrimSpace(n)
}

// slug keeps only lowercase letters and digits, for building host names
func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
