package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+?[78][\s\-]?\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}`),
		regexp.MustCompile(`\+?[78]\d{10}`),
	}
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	spaceRun     = regexp.MustCompile(`\s+`)
)

// PhonesFromText extracts every plausible Russian phone number from free
// text, returning only values that survive canonicalization, deduplicated in
// order of first appearance.
func PhonesFromText(text string) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, pat := range phonePatterns {
		for _, m := range pat.FindAllString(text, -1) {
			p, err := Phone(m)
			if err != nil {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// EmailsFromText extracts lowercase email addresses from free text, dropping
// duplicates and image-filename false positives.
func EmailsFromText(text string) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, m := range emailPattern.FindAllString(text, -1) {
		e := strings.ToLower(m)
		if strings.HasSuffix(e, ".png") || strings.HasSuffix(e, ".jpg") || strings.HasSuffix(e, ".gif") {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// CleanName normalizes a scraped company name: NFC form, collapsed
// whitespace, stripped quote characters.
func CleanName(name string) string {
	name = norm.NFC.String(name)
	name = strings.NewReplacer(`"`, "", "'", "", "«", "", "»", "", "„", "", "“", "").Replace(name)
	return strings.TrimSpace(spaceRun.ReplaceAllString(name, " "))
}
