package validator

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/cuongbtq/permit-search/internal/domain"
)

// Issue codes
const (
	CodeMissingJurisdictionName  = "MISSING_JURISDICTION_NAME"
	CodeInvalidWebsiteURL        = "INVALID_WEBSITE_URL"
	CodeInvalidPhoneFormat       = "INVALID_PHONE_FORMAT"
	CodeInvalidEmailFormat       = "INVALID_EMAIL_FORMAT"
	CodeNonGovernmentEmailDomain = "NON_GOVERNMENT_EMAIL_DOMAIN"
	CodeMissingContact           = "MISSING_CONTACT"
	CodeMissingOfficeAddress     = "MISSING_OFFICE_ADDRESS"
	CodeIncompleteAddress        = "INCOMPLETE_ADDRESS"
	CodeNoPermits                = "NO_PERMITS"
	CodeMissingPermitName        = "MISSING_PERMIT_NAME"
	CodeDuplicatePermit          = "DUPLICATE_PERMIT"
	CodeNegativeFee              = "NEGATIVE_FEE"
	CodeFeeOutOfRange            = "FEE_OUT_OF_RANGE"
)

// MaxReasonableFee is the upper bound for a single permit fee
const MaxReasonableFee = 50000.0

var (
	nonDigit   = regexp.MustCompile(`\D`)
	zipPattern = regexp.MustCompile(`\b\d{5}(-\d{4})?\b`)

	governmentSuffixes = []string{".gov", ".us", ".mil"}
)

func runChecks(b domain.ValidationBundle) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	issues = append(issues, checkJurisdiction(b.Jurisdiction)...)
	issues = append(issues, checkContact(b.Contact.Merge(b.Jurisdiction.ContactInfo), b.Jurisdiction.Website)...)
	issues = append(issues, checkPermits(b.Permits)...)
	issues = append(issues, checkFees(b.Fees)...)
	return issues
}

func checkJurisdiction(j domain.Jurisdiction) []domain.ValidationIssue {
	var issues []domain.ValidationIssue

	if strings.TrimSpace(j.Name) == "" {
		issues = append(issues, issue("jurisdiction.name", domain.SeverityCritical, CodeMissingJurisdictionName,
			"jurisdiction name is missing"))
	}

	if j.Website != "" && !validWebsite(j.Website) {
		issues = append(issues, issue("jurisdiction.website", domain.SeverityMedium, CodeInvalidWebsiteURL,
			fmt.Sprintf("website %q is not a valid http(s) URL", j.Website)))
	}

	return issues
}

func checkContact(c domain.ContactInfo, website string) []domain.ValidationIssue {
	var issues []domain.ValidationIssue

	if c.Phone == "" && c.Email == "" {
		issues = append(issues, issue("contact", domain.SeverityHigh, CodeMissingContact,
			"no phone number or email address"))
	}

	if c.Phone != "" && !validPhone(c.Phone) {
		issues = append(issues, issue("contact.phone", domain.SeverityMedium, CodeInvalidPhoneFormat,
			fmt.Sprintf("phone %q is not a 10 digit US number", c.Phone)))
	}

	if c.Email != "" {
		if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != strings.TrimSpace(c.Email) {
			issues = append(issues, issue("contact.email", domain.SeverityMedium, CodeInvalidEmailFormat,
				fmt.Sprintf("email %q is malformed", c.Email)))
		} else if !governmentDomain(emailDomain(c.Email), website) {
			issues = append(issues, issue("contact.email", domain.SeverityLow, CodeNonGovernmentEmailDomain,
				fmt.Sprintf("email domain %q is not a government domain", emailDomain(c.Email))))
		}
	}

	switch {
	case strings.TrimSpace(c.Address) == "":
		issues = append(issues, issue("contact.address", domain.SeverityLow, CodeMissingOfficeAddress,
			"office address is missing"))
	case !completeAddress(c.Address):
		issues = append(issues, issue("contact.address", domain.SeverityLow, CodeIncompleteAddress,
			"office address lacks a street number or ZIP code"))
	}

	return issues
}

func checkPermits(permits []domain.Permit) []domain.ValidationIssue {
	if len(permits) == 0 {
		return []domain.ValidationIssue{issue("permits", domain.SeverityHigh, CodeNoPermits, "no permits listed")}
	}

	var issues []domain.ValidationIssue
	seen := make(map[string]bool, len(permits))
	for i, p := range permits {
		name := strings.ToLower(strings.Join(strings.Fields(p.Name), " "))
		field := fmt.Sprintf("permits[%d].name", i)

		if name == "" {
			issues = append(issues, issue(field, domain.SeverityMedium, CodeMissingPermitName, "permit has no name"))
			continue
		}
		if seen[name] {
			issues = append(issues, issue(field, domain.SeverityLow, CodeDuplicatePermit,
				fmt.Sprintf("permit %q is listed more than once", p.Name)))
			continue
		}
		seen[name] = true
	}
	return issues
}

func checkFees(fees []domain.Fee) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for i, f := range fees {
		field := fmt.Sprintf("fees[%d].amount", i)
		switch {
		case f.Amount < 0:
			issues = append(issues, issue(field, domain.SeverityHigh, CodeNegativeFee,
				fmt.Sprintf("fee %q is negative", f.Name)))
		case f.Amount > MaxReasonableFee:
			issues = append(issues, issue(field, domain.SeverityMedium, CodeFeeOutOfRange,
				fmt.Sprintf("fee %q of %.2f exceeds %.0f", f.Name, f.Amount, MaxReasonableFee)))
		}
	}
	return issues
}

func suggestions(issues []domain.ValidationIssue) []string {
	var out []string
	seen := make(map[string]bool)
	for _, i := range issues {
		s, ok := suggestionByCode[i.Code]
		if !ok || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

var suggestionByCode = map[string]string{
	CodeMissingJurisdictionName:  "Confirm the governing jurisdiction before relying on this data",
	CodeInvalidWebsiteURL:        "Verify the jurisdiction website address",
	CodeInvalidPhoneFormat:       "Check the phone number against the jurisdiction website",
	CodeInvalidEmailFormat:       "Check the email address against the jurisdiction website",
	CodeNonGovernmentEmailDomain: "Prefer an official government email address",
	CodeMissingContact:           "Contact the jurisdiction directly for permit office details",
	CodeMissingOfficeAddress:     "Look up the permit office address",
	CodeIncompleteAddress:        "Look up the full permit office address",
	CodeNoPermits:                "Contact the jurisdiction for the permits that apply",
	CodeMissingPermitName:        "Remove or name unnamed permits",
	CodeDuplicatePermit:          "Remove duplicate permits",
	CodeNegativeFee:              "Verify fee amounts with the jurisdiction",
	CodeFeeOutOfRange:            "Verify unusually large fees with the jurisdiction",
}

func issue(field string, sev domain.Severity, code, msg string) domain.ValidationIssue {
	return domain.ValidationIssue{Field: field, Severity: sev, Code: code, Message: msg}
}

func validPhone(phone string) bool {
	digits := nonDigit.ReplaceAllString(phone, "")
	return len(digits) == 10 || (len(digits) == 11 && digits[0] == '1')
}

func validWebsite(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && strings.Contains(u.Host, ".")
}

func completeAddress(addr string) bool {
	hasNumber := strings.IndexFunc(addr, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
	return hasNumber && zipPattern.MatchString(addr)
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

// governmentDomain accepts .gov style domains and the jurisdiction's own domain
func governmentDomain(d, website string) bool {
	for _, suffix := range governmentSuffixes {
		if strings.HasSuffix(d, suffix) {
			return true
		}
	}

	if u, err := url.Parse(website); err == nil && u.Host != "" {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		return d == host || strings.HasSuffix(d, "."+host)
	}
	return false
}
