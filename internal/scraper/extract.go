package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	phonePattern = regexp.MustCompile(`\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]\d{4}\b`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	spacePattern = regexp.MustCompile(`\s+`)

	permitKeywords = []string{"permit", "application", "apply", "license", "inspection"}
)

type page struct {
	title      string
	content    string
	structured *Structured
}

func parsePage(pageURL string, body []byte, advanced bool) (*page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	origin, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	p := &page{
		title: collapse(doc.Find("title").First().Text()),
	}

	var structured *Structured
	if advanced {
		// links and forms are read before text extraction strips anything
		structured = extractStructured(doc, origin)
	}

	doc.Find("script, style, noscript, template").Remove()

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	p.content = collapse(text)

	if structured != nil {
		structured.Phones = appendUnique(structured.Phones, phonePattern.FindAllString(p.content, -1)...)
		structured.Emails = appendUnique(structured.Emails, emailPattern.FindAllString(p.content, -1)...)
		p.structured = structured
	}

	return p, nil
}

func extractStructured(doc *goquery.Document, origin *url.URL) *Structured {
	s := &Structured{}

	doc.Find("form").Each(func(_ int, sel *goquery.Selection) {
		action, _ := sel.Attr("action")
		actionURL := origin.String()
		if strings.TrimSpace(action) != "" {
			if u, err := normalizeURL(origin, action); err == nil {
				actionURL = u
			}
		}

		method := strings.ToUpper(strings.TrimSpace(sel.AttrOr("method", "GET")))
		if method == "" {
			method = "GET"
		}

		var fields []string
		sel.Find("input, select, textarea").Each(func(_ int, in *goquery.Selection) {
			if name, ok := in.Attr("name"); ok && name != "" {
				fields = appendUnique(fields, name)
			}
		})

		s.DetectedForms = append(s.DetectedForms, Form{Action: actionURL, Method: method, Fields: fields})

		label := formLabel(sel)
		if mentionsPermit(label) || mentionsPermit(action) {
			s.PermitForms = appendForm(s.PermitForms, PermitForm{Name: label, URL: actionURL})
		}
	})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)

		switch {
		case strings.HasPrefix(lower, "tel:"):
			s.Phones = appendUnique(s.Phones, strings.TrimSpace(href[len("tel:"):]))
			return
		case strings.HasPrefix(lower, "mailto:"):
			addr := href[len("mailto:"):]
			if i := strings.Index(addr, "?"); i >= 0 {
				addr = addr[:i]
			}
			s.Emails = appendUnique(s.Emails, strings.TrimSpace(addr))
			return
		}

		text := collapse(sel.Text())
		if !mentionsPermit(text) && !mentionsPermit(href) {
			return
		}

		abs, err := normalizeURL(origin, href)
		if err != nil {
			return
		}

		s.PermitLinks = appendUnique(s.PermitLinks, abs)
		if isDocument(abs) {
			name := text
			if name == "" {
				name = abs
			}
			s.PermitForms = appendForm(s.PermitForms, PermitForm{Name: name, URL: abs})
		}
	})

	return s
}

// formLabel names a form after its nearest heading, legend or submit button
func formLabel(form *goquery.Selection) string {
	for _, sel := range []string{"legend", "h1, h2, h3, h4", "button[type=submit], input[type=submit]"} {
		node := form.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		label := collapse(node.Text())
		if label == "" {
			label = strings.TrimSpace(node.AttrOr("value", ""))
		}
		if label != "" {
			return label
		}
	}

	if prev := form.PrevAllFiltered("h1, h2, h3, h4").First(); prev.Length() > 0 {
		return collapse(prev.Text())
	}
	return strings.TrimSpace(form.AttrOr("name", form.AttrOr("id", "")))
}

// normalizeURL resolves u against origin and drops links that are not fetchable pages
func normalizeURL(origin *url.URL, u string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(u))
	for _, prefix := range []string{"data:", "javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", fmt.Errorf("not a page link: %s", prefix)
		}
	}
	if lower == "" || strings.HasPrefix(lower, "#") {
		return "", fmt.Errorf("not a page link")
	}

	ref, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return "", err
	}

	abs := origin.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", abs.Scheme)
	}
	abs.Fragment = ""

	return abs.String(), nil
}

func mentionsPermit(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range permitKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isDocument(u string) bool {
	lower := strings.ToLower(u)
	if i := strings.Index(lower, "?"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".pdf", ".doc", ".docx"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func collapse(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		dup := false
		for _, existing := range list {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}

func appendForm(list []PermitForm, f PermitForm) []PermitForm {
	for _, existing := range list {
		if existing.URL == f.URL {
			return list
		}
	}
	return append(list, f)
}
