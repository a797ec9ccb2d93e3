// Package detect scans tool-call fields for sensitive entities against the
// fixed configurable taxonomy. Scans are pure functions of their input; a
// failing detector kind degrades that kind only and never aborts the scan.
package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cortexhub/cortexhub/internal/model"
)

// Config controls which kinds run and the confidence floor for reporting.
type Config struct {
	Threshold float64
	Kinds     []model.EntityKind
}

// DefaultThreshold is the confidence floor when none is configured.
const DefaultThreshold = 0.5

// Scanner runs the configured detectors over call fields.
type Scanner struct {
	threshold float64
	finders   map[model.EntityKind]Finder
}

// NewScanner builds a Scanner. An empty kind list enables the full taxonomy;
// a zero threshold falls back to DefaultThreshold.
func NewScanner(cfg Config) *Scanner {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	all := kindFinders()
	finders := all
	if len(cfg.Kinds) > 0 {
		finders = make(map[model.EntityKind]Finder, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			if f, ok := all[k]; ok {
				finders[k] = f
			}
		}
	}

	return &Scanner{threshold: threshold, finders: finders}
}

// Findings is the outcome of one scan: the entities above threshold plus a
// per-kind failure map for detectors that panicked on this input.
type Findings struct {
	Entities []model.Entity
	Degraded map[model.EntityKind]error

	spans map[string][]span // per field, for redaction
}

// Counts returns entity kind frequencies, the form telemetry reports.
func (f Findings) Counts() map[model.EntityKind]int {
	if len(f.Entities) == 0 {
		return nil
	}
	counts := make(map[model.EntityKind]int)
	for _, e := range f.Entities {
		counts[e.Kind]++
	}
	return counts
}

// Count returns the number of entities of one kind.
func (f Findings) Count(kind model.EntityKind) int {
	n := 0
	for _, e := range f.Entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Scan runs every configured detector over every field. A detector failure
// for one kind is recorded in Degraded and the remaining kinds still run.
func (s *Scanner) Scan(fields map[string]string, loc model.Location) Findings {
	findings := Findings{spans: make(map[string][]span)}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		text := fields[name]
		if text == "" {
			continue
		}

		var fieldSpans []span
		for kind, find := range s.finders {
			var found []span
			err := recoverToError(kind, func() { found = find(text) })
			if err != nil {
				if findings.Degraded == nil {
					findings.Degraded = make(map[model.EntityKind]error)
				}
				findings.Degraded[kind] = err
				continue
			}
			fieldSpans = append(fieldSpans, found...)
		}

		for i := range fieldSpans {
			fieldSpans[i].field = name
		}
		kept := resolveOverlaps(fieldSpans)
		findings.spans[name] = kept

		for _, sp := range kept {
			if sp.confidence < s.threshold {
				continue
			}
			findings.Entities = append(findings.Entities, model.Entity{
				Kind:       sp.kind,
				Field:      name,
				Location:   loc,
				Confidence: sp.confidence,
			})
		}
	}

	return findings
}

// StringFields converts call arguments into detector input. Non-string
// values are stringified when stringify is true, otherwise skipped.
func StringFields(args []model.Arg, stringify bool) map[string]string {
	fields := make(map[string]string, len(args))
	for _, a := range args {
		switch v := a.Value.(type) {
		case string:
			fields[a.Name] = v
		default:
			if stringify && v != nil {
				fields[a.Name] = stringifyValue(v)
			}
		}
	}
	return fields
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case []string:
		return strings.Join(t, " ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
