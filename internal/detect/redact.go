package detect

import "sort"

// Redacted returns a copy of fields with every detected span replaced by a
// [KIND] token. Raw matched text never leaves the process in registration or
// telemetry payloads; only kinds and counts do.
func (f Findings) Redacted(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for name, text := range fields {
		spans := f.spans[name]
		if len(spans) == 0 {
			out[name] = text
			continue
		}

		// Replace back-to-front so earlier offsets stay valid.
		sorted := make([]span, len(spans))
		copy(sorted, spans)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].start > sorted[j].start })

		redacted := text
		for _, sp := range sorted {
			if sp.start < 0 || sp.end > len(redacted) {
				continue
			}
			redacted = redacted[:sp.start] + "[" + string(sp.kind) + "]" + redacted[sp.end:]
		}
		out[name] = redacted
	}
	return out
}
