package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Compiled patterns for the entity taxonomy.
var (
	emailRe = regexp.MustCompile(`\b([a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})\b`)

	// E.164-ish and common US formats: +1-555-123-4567, (555) 123-4567, 555-123-4567.
	phoneRe = regexp.MustCompile(`(\+?\d{1,2}[-. ]?)?(\(\d{3}\)|\d{3})[-. ]\d{3}[-. ]\d{4}\b`)

	// SSN with separators (high confidence) and bare 9 digits (lower).
	ssnDashedRe = regexp.MustCompile(`\b(\d{3}[- ]\d{2}[- ]\d{4})\b`)
	ssnBareRe   = regexp.MustCompile(`\b(\d{9})\b`)

	// Account numbers: 8-17 digit runs, optionally prefixed with acct/account.
	accountRe = regexp.MustCompile(`\b(\d{8,17})\b`)

	// Card numbers: 13-19 digits with optional separators, validated by Luhn.
	cardRe = regexp.MustCompile(`\b(\d[ -]?){12,18}\d\b`)

	ipv4Re = regexp.MustCompile(`\b(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})\b`)

	urlRe = regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)

	// Credentials: key=value pairs where the key suggests a secret, plus
	// well-known token shapes (AWS access keys, bearer tokens).
	credKVRe  = regexp.MustCompile(`(?i)((?:password|passwd|secret|token|api_key|apikey|auth|credential)s?[ \t]*[=:][ \t]*\S+)`)
	awsKeyRe  = regexp.MustCompile(`\b((?:AKIA|ASIA)[0-9A-Z]{16})\b`)
	bearerRe  = regexp.MustCompile(`(?i)\b(bearer\s+[a-z0-9._\-]{16,})`)
	privKeyRe = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)

	// Capitalized bigrams as a naive person-name signal.
	personRe = regexp.MustCompile(`\b([A-Z][a-z]{1,20} [A-Z][a-z]{1,20})\b`)
)

// personStopwords are capitalized bigrams that are common prose, not names.
var personStopwords = map[string]bool{
	"New York":      true,
	"Los Angeles":   true,
	"San Francisco": true,
	"United States": true,
	"Order Id":      true,
	"Customer Id":   true,
}

// safeIPs are addresses that carry no information about a caller.
var safeIPs = map[string]bool{
	"127.0.0.1":       true,
	"0.0.0.0":         true,
	"255.255.255.255": true,
}

// span is an internal match with offsets, used for overlap resolution and
// redaction. Offsets never leave the package.
type span struct {
	kind       model.EntityKind
	field      string
	start, end int
	confidence float64
}

// Finder locates all spans of one kind in a single text field.
type Finder func(text string) []span

// kindFinders maps each taxonomy kind to its finder. Keys double as the
// default enabled-kind set.
func kindFinders() map[model.EntityKind]Finder {
	return map[model.EntityKind]Finder{
		model.EntityEmail:         findEmails,
		model.EntityPhone:         findPhones,
		model.EntityPerson:        findPersons,
		model.EntitySSN:           findSSNs,
		model.EntityAccountNumber: findAccounts,
		model.EntityCreditCard:    findCards,
		model.EntityIPAddress:     findIPs,
		model.EntityURL:           findURLs,
		model.EntitySecret:        findSecrets,
	}
}

func spansFor(re *regexp.Regexp, text string, kind model.EntityKind, confidence float64) []span {
	var out []span
	for _, loc := range re.FindAllStringIndex(text, -1) {
		out = append(out, span{kind: kind, start: loc[0], end: loc[1], confidence: confidence})
	}
	return out
}

func findEmails(text string) []span { return spansFor(emailRe, text, model.EntityEmail, 0.95) }

func findPhones(text string) []span { return spansFor(phoneRe, text, model.EntityPhone, 0.8) }

func findPersons(text string) []span {
	var out []span
	for _, loc := range personRe.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		if personStopwords[v] {
			continue
		}
		out = append(out, span{kind: model.EntityPerson, start: loc[0], end: loc[1], confidence: 0.6})
	}
	return out
}

func findSSNs(text string) []span {
	out := spansFor(ssnDashedRe, text, model.EntitySSN, 0.9)
	for _, loc := range ssnBareRe.FindAllStringIndex(text, -1) {
		v := text[loc[0]:loc[1]]
		// SSNs never start with 9 or 000.
		if v[0] == '9' || strings.HasPrefix(v, "000") {
			continue
		}
		out = append(out, span{kind: model.EntitySSN, start: loc[0], end: loc[1], confidence: 0.65})
	}
	return out
}

func findAccounts(text string) []span { return spansFor(accountRe, text, model.EntityAccountNumber, 0.55) }

func findCards(text string) []span {
	var out []span
	for _, loc := range cardRe.FindAllStringIndex(text, -1) {
		digits := stripSeparators(text[loc[0]:loc[1]])
		if len(digits) < 13 || len(digits) > 19 || !luhnValid(digits) {
			continue
		}
		out = append(out, span{kind: model.EntityCreditCard, start: loc[0], end: loc[1], confidence: 0.95})
	}
	return out
}

func findIPs(text string) []span {
	var out []span
	for _, loc := range ipv4Re.FindAllStringIndex(text, -1) {
		if safeIPs[text[loc[0]:loc[1]]] {
			continue
		}
		out = append(out, span{kind: model.EntityIPAddress, start: loc[0], end: loc[1], confidence: 0.85})
	}
	return out
}

func findURLs(text string) []span { return spansFor(urlRe, text, model.EntityURL, 0.8) }

func findSecrets(text string) []span {
	out := spansFor(credKVRe, text, model.EntitySecret, 0.9)
	out = append(out, spansFor(awsKeyRe, text, model.EntitySecret, 0.95)...)
	out = append(out, spansFor(bearerRe, text, model.EntitySecret, 0.9)...)
	out = append(out, spansFor(privKeyRe, text, model.EntitySecret, 0.95)...)
	return out
}

func stripSeparators(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// luhnValid checks the Luhn checksum over a digit string.
func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// resolveOverlaps keeps the highest-confidence span for any overlapping
// region within one field. On equal confidence the earlier, longer span wins.
func resolveOverlaps(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].confidence != spans[j].confidence {
			return spans[i].confidence > spans[j].confidence
		}
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end-spans[i].start > spans[j].end-spans[j].start
	})

	var kept []span
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.start < k.end && k.start < s.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].start < kept[j].start })
	return kept
}

func recoverToError(kind model.EntityKind, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector %s: %v", kind, r)
		}
	}()
	fn()
	return nil
}
