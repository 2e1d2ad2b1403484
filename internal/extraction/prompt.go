package extraction

import (
	"fmt"
	"strings"
)

const systemPrompt = `You extract building permit information from the text of a local government website.
Respond with a single JSON object with this shape:
{
  "permits": [{"name": "", "description": "", "required": true, "processing_time": "", "fee": "", "url": ""}],
  "fees": [{"name": "", "amount": 0, "description": ""}],
  "contact": {"phone": "", "email": "", "address": "", "hours": ""},
  "notes": ""
}
Only include information present in the text. Use empty strings for unknown values and an empty list when nothing is found.
Amounts are numbers in US dollars.`

func buildUserPrompt(req Request, maxChars int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Address: %s\n", req.Address.OneLine())
	fmt.Fprintf(&b, "Jurisdiction: %s", req.Jurisdiction.Name)
	if req.Jurisdiction.State != "" {
		fmt.Fprintf(&b, " (%s)", req.Jurisdiction.State)
	}
	b.WriteString("\n")
	if req.Jurisdiction.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", req.Jurisdiction.Website)
	}

	b.WriteString("\nWebsite content:\n")
	b.WriteString(truncate(req.Content, maxChars))

	return b.String()
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
