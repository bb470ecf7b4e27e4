// Package trace classifies agent event records into behavioral evidence: command
// execution, file reads, file writes, and other tool activity.
package trace

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/codalotl/agentconform/internal/jsonval"
)

// Category is the behavioral class of an evidence entry.
type Category string

const (
	CommandExecution Category = "command_execution"
	FileRead         Category = "file_read"
	FileWrite        Category = "file_write"
	TraceEvent       Category = "trace_event"
)

// SummaryLimit bounds the length, in characters, of an entry summary.
const SummaryLimit = 400

// Categories returns all categories in classification order.
func Categories() []Category {
	return []Category{CommandExecution, FileRead, FileWrite, TraceEvent}
}

// signature is one independent classification predicate. The first matching signature
// decides the category.
type signature struct {
	category Category
	pattern  *regexp.Regexp
}

func (s signature) matches(typeToken, serialized string) bool {
	return s.pattern.MatchString(typeToken + " " + serialized)
}

var signatures = []signature{
	{CommandExecution, regexp.MustCompile(`command_execution|command\.execution|shell|bash|zsh|exec|run_command|tool\.shell`)},
	{FileRead, regexp.MustCompile(`file_read|file\.read|read_file|cat\b|rg\b|grep\b|ls\b|find\b`)},
	{FileWrite, regexp.MustCompile(`file_write|file\.write|write_file|apply_patch|tee\b|cp\b|mv\b|mkdir\b|touch\b`)},
	{TraceEvent, regexp.MustCompile(`trace|tool_call|tool_result|function_call|command`)},
}

// Entry is one retained event.
type Entry struct {
	Index    int // position in the original event sequence
	Category Category
	Summary  string // lowercase serialized event, at most SummaryLimit characters
}

// Evidence is a read-only view over the classified events of one run.
type Evidence struct {
	entries []Entry
	corpus  string
}

// Extract classifies events. Events that match no signature are dropped.
func Extract(events []jsonval.Value) Evidence {
	var entries []Entry
	for i, event := range events {
		serialized := Normalize(event)
		category, ok := Classify(DiscriminatorOf(event), serialized)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Index:    i,
			Category: category,
			Summary:  truncate(serialized, SummaryLimit),
		})
	}
	summaries := make([]string, len(entries))
	for i, e := range entries {
		summaries[i] = e.Summary
	}
	return Evidence{entries: entries, corpus: strings.Join(summaries, "\n")}
}

// Classify returns the category for a normalized type token and serialized event.
func Classify(typeToken, serialized string) (Category, bool) {
	for _, sig := range signatures {
		if sig.matches(typeToken, serialized) {
			return sig.category, true
		}
	}
	return "", false
}

// Total is the number of retained entries.
func (e Evidence) Total() int { return len(e.entries) }

// Entries returns all entries in event order.
func (e Evidence) Entries() []Entry {
	return append([]Entry(nil), e.entries...)
}

// ByCategory returns the entries of one category in event order.
func (e Evidence) ByCategory(c Category) []Entry {
	var out []Entry
	for _, entry := range e.entries {
		if entry.Category == c {
			out = append(out, entry)
		}
	}
	return out
}

// Counts returns the number of entries per category. Every category is present.
func (e Evidence) Counts() map[Category]int {
	counts := make(map[Category]int, len(signatures))
	for _, c := range Categories() {
		counts[c] = 0
	}
	for _, entry := range e.entries {
		counts[entry.Category]++
	}
	return counts
}

// Corpus is the newline-joined entry summaries, used for keyword search.
func (e Evidence) Corpus() string { return e.corpus }

// Contains reports whether the normalized keyword occurs in the corpus.
func (e Evidence) Contains(keyword string) bool {
	return strings.Contains(e.corpus, NormalizeText(keyword))
}

// DiscriminatorOf returns the normalized event kind taken from the first non-empty of the
// `type`, `event`, or `name` fields.
func DiscriminatorOf(event jsonval.Value) string {
	for _, key := range []string{"type", "event", "name"} {
		if v, ok := event.Get(key); ok && v.Truthy() {
			return Normalize(v)
		}
	}
	return ""
}

// Normalize lowercases the text form of v and strips leading slashes.
func Normalize(v jsonval.Value) string {
	return NormalizeText(v.Text())
}

// NormalizeText lowercases s, strips leading slashes, and trims surrounding space.
func NormalizeText(s string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.ToLower(s), "/"))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
