package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// markupTag matches an opening, closing, comment or doctype tag. A bare
// "<" followed by anything else is plain text, as in "Vgs<Vth".
var markupTag = regexp.MustCompile(`<[A-Za-z/!]`)

// cleanCell trims a cell and flattens HTML markup or entities to text.
func cleanCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}

	if !markupTag.MatchString(value) {
		if strings.Contains(value, "&") {
			return collapseSpaces(html.UnescapeString(value))
		}
		return value
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(value))
	if err != nil {
		return value
	}
	return collapseSpaces(doc.Text())
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
