package ocr

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Address-pattern rules over recognized text.
//
// OCR output is noisy: commas go missing, casing is inconsistent, runs of
// whitespace appear mid-line. The pattern below therefore treats commas as
// optional and matches case-insensitively, keying on the stable parts of a
// US street address instead: a leading house number, a street-suffix word,
// a two-letter state and a ZIP.
var reAddress = regexp.MustCompile(`(?i)` +
	`(\d{1,6})\s+` + // house number
	`([A-Za-z0-9][A-Za-z0-9 .'-]{1,60}?\s` + // street words ...
	`(?:st|street|ave|avenue|rd|road|dr|drive|blvd|boulevard|ln|lane|ct|court|` +
	`cir|circle|way|pl|place|ter|terrace|hwy|highway|pkwy|parkway|trl|trail)\.?)` + // ... ending in a suffix
	`\s*,?\s*` +
	`([A-Za-z][A-Za-z .'-]{1,40}?)` + // city
	`\s*,?\s+` +
	`([A-Za-z]{2})\s+` + // state
	`(\d{5}(?:-\d{4})?)`) // zip

var titleCaser = cases.Title(language.AmericanEnglish)

// ParseAddresses applies the address-pattern rules over raw recognized text
// and returns every match, ordered by position in the text. Callers typically
// take the first match as canonical.
//
// "No address recognized" is a valid outcome: the return value is simply
// empty, never an error.
func ParseAddresses(text string) []string {
	text = collapseSpace(text)

	var out []string
	for _, m := range reAddress.FindAllStringSubmatch(text, -1) {
		out = append(out, formatAddress(m[1], m[2], m[3], m[4], m[5]))
	}
	return out
}

// formatAddress renders one canonical "123 Main St, Houston, TX 77002" form
// from the raw capture groups, normalizing the casing damage OCR inflicts.
func formatAddress(number, street, city, state, zip string) string {
	street = titleCaser.String(strings.ToLower(collapseSpace(street)))
	city = titleCaser.String(strings.ToLower(collapseSpace(city)))
	state = strings.ToUpper(state)
	return number + " " + street + ", " + city + ", " + state + " " + zip
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
