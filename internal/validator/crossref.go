package validator

import (
	"context"
	"errors"
	"strings"

	"github.com/cuongbtq/permit-search/internal/domain"
	"github.com/cuongbtq/permit-search/internal/scraper"
)

// Scraper fetches a page for cross-referencing
type Scraper interface {
	ScrapeURL(ctx context.Context, url string, opts scraper.Options) *scraper.Result
}

// WebsiteCrossReference confirms contact details appear on the jurisdiction website
type WebsiteCrossReference struct {
	scraper Scraper
	opts    scraper.Options
}

// NewWebsiteCrossReference creates the website source
func NewWebsiteCrossReference(s Scraper, opts scraper.Options) *WebsiteCrossReference {
	opts.EnableAdvancedExtraction = true
	return &WebsiteCrossReference{scraper: s, opts: opts}
}

// Name identifies the source in results
func (w *WebsiteCrossReference) Name() string {
	return "jurisdiction_website"
}

// Check scrapes the website and reports which contact values it mentions.
// It returns nil when there is nothing to compare.
func (w *WebsiteCrossReference) Check(ctx context.Context, b domain.ValidationBundle) (*domain.CrossReference, error) {
	contact := b.Contact.Merge(b.Jurisdiction.ContactInfo)
	if b.Jurisdiction.Website == "" || (contact.Phone == "" && contact.Email == "") {
		return nil, nil
	}

	res := w.scraper.ScrapeURL(ctx, b.Jurisdiction.Website, w.opts)
	if !res.Success {
		return nil, errors.New(res.Error)
	}

	ref := &domain.CrossReference{Source: w.Name()}

	if contact.Phone != "" {
		if phoneOnPage(contact.Phone, res) {
			ref.Matched = append(ref.Matched, "phone")
		} else {
			ref.Unmatched = append(ref.Unmatched, "phone")
		}
	}
	if contact.Email != "" {
		if emailOnPage(contact.Email, res) {
			ref.Matched = append(ref.Matched, "email")
		} else {
			ref.Unmatched = append(ref.Unmatched, "email")
		}
	}

	ref.Confidence = float64(len(ref.Matched)) / float64(len(ref.Matched)+len(ref.Unmatched))
	return ref, nil
}

func phoneOnPage(phone string, res *scraper.Result) bool {
	want := lastTen(nonDigit.ReplaceAllString(phone, ""))
	if want == "" {
		return false
	}
	if res.Structured != nil {
		for _, p := range res.Structured.Phones {
			if lastTen(nonDigit.ReplaceAllString(p, "")) == want {
				return true
			}
		}
	}
	return strings.Contains(nonDigit.ReplaceAllString(res.Content, ""), want)
}

func emailOnPage(email string, res *scraper.Result) bool {
	want := strings.ToLower(strings.TrimSpace(email))
	if res.Structured != nil {
		for _, e := range res.Structured.Emails {
			if strings.ToLower(e) == want {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(res.Content), want)
}

func lastTen(digits string) string {
	if len(digits) > 10 {
		return digits[len(digits)-10:]
	}
	return digits
}
