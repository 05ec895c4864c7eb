package rusprofile

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Profile holds everything parsed from a company page. Premium fields are
// pointers: nil means the page did not show the value, which callers must
// distinguish from an explicit zero.
type Profile struct {
	INN     string
	OGRN    string
	Name    string
	Address string
	OKVED   string
	Website string
	Phones  []string // raw, as printed on the page
	Emails  []string

	Revenue             *int64 // rubles
	Profit              *int64 // rubles, may be negative
	EmployeeCount       *int
	Founders            []string
	CourtCases          *int // plaintiff + defendant
	GovernmentContracts *int

	SourceURL string
}

var (
	companyHref = regexp.MustCompile(`/id/\d+`)

	innRe   = regexp.MustCompile(`ИНН[:\s]*(\d{10,12})`)
	ogrnRe  = regexp.MustCompile(`ОГРН[:\s]*(\d{13,15})`)
	okvedRe = regexp.MustCompile(`ОКВЭД[:\s]*(\d{2}\.\d{2}(?:\.\d{1,2})?)`)
	addrRe  = regexp.MustCompile(`(?:Юридический адрес|Адрес)[:\s]*([^\n<]+)`)

	revenueRe = regexp.MustCompile(`(?i)Выручка(?: за \d{4})?[:\s]*([\d\s,\.]+\s*(?:млн|тыс|млрд)?\.?\s*(?:руб|₽)?)`)
	profitRe  = regexp.MustCompile(`(?i)(?:Чистая\s+)?прибыль(?: за \d{4})?[:\s]*([\-\d\s,\.]+\s*(?:млн|тыс|млрд)?\.?\s*(?:руб|₽)?)`)

	employeesRe = regexp.MustCompile(`(?i)(?:Численность|Сотрудников|Среднесписочная численность)[:\s]*(\d+)`)

	govContractsRe = regexp.MustCompile(`(?i)(?:Госконтракт|Контракт)[ыов]*[:\s]*(\d+)`)
	plaintiffRe    = regexp.MustCompile(`(?i)(?:как истец|Истец)[:\s]*(\d+)`)
	defendantRe    = regexp.MustCompile(`(?i)(?:как ответчик|Ответчик)[:\s]*(\d+)`)

	founderRe = regexp.MustCompile(`(?:Учредитель|Генеральный директор|Директор)[:\s]*([А-ЯЁ][а-яё]+(?:\s+[А-ЯЁ][а-яё\.]+){1,2})`)

	pagePhoneRe = regexp.MustCompile(`(?:\+7|8|7)[\s\-\(\)]*\d{3}[\s\-\(\)]*\d{3}[\s\-]*\d{2}[\s\-]*\d{2}`)
	pageEmailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// parseProfile extracts a Profile from a company page.
func parseProfile(doc *goquery.Document, sourceURL string) *Profile {
	p := &Profile{SourceURL: sourceURL}

	text := collapseSpace(doc.Text())

	if m := innRe.FindStringSubmatch(text); m != nil {
		p.INN = m[1]
	}
	if m := ogrnRe.FindStringSubmatch(text); m != nil {
		p.OGRN = m[1]
	}
	if m := okvedRe.FindStringSubmatch(text); m != nil {
		p.OKVED = m[1]
	}

	if h1 := doc.Find("h1").First(); h1.Length() > 0 {
		p.Name = collapseSpace(h1.Text())
	}

	if addr := doc.Find(`address, span[itemprop=address]`).First(); addr.Length() > 0 {
		p.Address = collapseSpace(addr.Text())
	} else if m := addrRe.FindStringSubmatch(text); m != nil {
		p.Address = truncate(strings.TrimSpace(m[1]), 200)
	}

	if m := revenueRe.FindStringSubmatch(text); m != nil {
		p.Revenue = parseMoney(m[1])
	}
	if m := profitRe.FindStringSubmatch(text); m != nil {
		p.Profit = parseMoney(m[1])
	}
	if m := employeesRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.EmployeeCount = &n
		}
	}
	if m := govContractsRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p.GovernmentContracts = &n
		}
	}

	// Court involvement is reported per role; store the total.
	var cases int
	var sawCases bool
	if m := plaintiffRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			cases += n
			sawCases = true
		}
	}
	if m := defendantRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			cases += n
			sawCases = true
		}
	}
	if sawCases {
		p.CourtCases = &cases
	}

	for _, m := range founderRe.FindAllStringSubmatch(text, 5) {
		name := collapseSpace(m[1])
		if !contains(p.Founders, name) {
			p.Founders = append(p.Founders, name)
		}
	}

	for _, m := range pagePhoneRe.FindAllString(text, 10) {
		if !contains(p.Phones, m) {
			p.Phones = append(p.Phones, m)
		}
	}
	for _, m := range pageEmailRe.FindAllString(text, 10) {
		lower := strings.ToLower(m)
		if !contains(p.Emails, lower) {
			p.Emails = append(p.Emails, lower)
		}
	}

	if href, ok := doc.Find(`a[class*="website"], a[class*="site"]`).First().Attr("href"); ok {
		p.Website = href
	}

	return p
}

// moneyRe splits a money string like "1,2 млрд руб." into the numeric part
// and the optional scale word.
var moneyRe = regexp.MustCompile(`(-?[\d\s]+(?:[,\.]\d+)?)\s*(млрд|млн|тыс)?`)

// parseMoney converts a Russian-formatted money string to whole rubles.
// Returns nil when no number can be extracted.
func parseMoney(s string) *int64 {
	m := moneyRe.FindStringSubmatch(s)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return nil
	}
	num := strings.ReplaceAll(m[1], " ", "")
	num = strings.ReplaceAll(num, " ", "")
	num = strings.ReplaceAll(num, ",", ".")
	val, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	switch m[2] {
	case "млрд":
		val *= 1e9
	case "млн":
		val *= 1e6
	case "тыс":
		val *= 1e3
	}
	rub := int64(val)
	return &rub
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
