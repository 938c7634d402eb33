// Package analysis groups failed jobs by the shape of their error so a reviewer
// sees one line per cause instead of one per image.
package analysis

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// Normalization regexes compiled once at package init.
var (
	reURL        = regexp.MustCompile(`https?://\S+`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	reDuration   = regexp.MustCompile(`\b\d+(\.\d+)?(ns|µs|us|ms|s|m|h)\b`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

const maxSampleBytes = 500

// FailureGroup is a set of jobs whose error messages normalize to the same text.
type FailureGroup struct {
	Fingerprint   string   `json:"fingerprint"`
	SampleMessage string   `json:"sample_message"`
	Count         int      `json:"count"`
	JobIDs        []int64  `json:"job_ids"`
	ImageRefs     []string `json:"image_refs"`
}

// GroupFailures clusters failed jobs by error fingerprint. Jobs that are not failed,
// or failed without a message, are ignored. Groups are sorted by count descending,
// then by their first job id. Returns an empty slice, never nil.
func GroupFailures(jobs []*models.Job) []FailureGroup {
	groups := make(map[string]*FailureGroup)
	first := make(map[string]int64)

	for _, j := range jobs {
		if j.Status != models.StatusFailed || j.ErrorMessage == "" {
			continue
		}
		fp := Fingerprint(j.ErrorMessage)
		g, ok := groups[fp]
		if !ok {
			g = &FailureGroup{
				Fingerprint:   fp,
				SampleMessage: truncateString(j.ErrorMessage, maxSampleBytes),
			}
			groups[fp] = g
			first[fp] = j.ID
		}
		g.Count++
		g.JobIDs = append(g.JobIDs, j.ID)
		g.ImageRefs = append(g.ImageRefs, j.ImageRef)
		if j.ID < first[fp] {
			first[fp] = j.ID
		}
	}

	out := make([]FailureGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return first[out[i].Fingerprint] < first[out[j].Fingerprint]
	})
	return out
}

// Fingerprint computes a stable short SHA-256 fingerprint for an error message.
func Fingerprint(message string) string {
	hash := sha256.Sum256([]byte(NormalizeMessage(message)))
	return fmt.Sprintf("%x", hash[:8])
}

// NormalizeMessage strips the parts of an error that vary per image or per
// attempt: URLs, addresses, ids, counters and durations.
func NormalizeMessage(msg string) string {
	msg = reURL.ReplaceAllString(msg, "URL")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reBracketNum.ReplaceAllString(msg, "[N]")
	msg = reParenNum.ReplaceAllString(msg, "(N)")
	msg = reDuration.ReplaceAllString(msg, "DURATION")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	return truncateString(msg, maxSampleBytes)
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
