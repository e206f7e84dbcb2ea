package changeset

import (
	"fmt"
	"strings"
)

// Diff is the outcome of a Check: whether the target differs from the
// desired state and, where meaningful, what the before and after look like.
type Diff struct {
	Changed bool   `json:"changed"`
	Subject string `json:"subject,omitempty"`
	Before  string `json:"before,omitempty"`
	After   string `json:"after,omitempty"`
	// Summary is a one-line human description of the change.
	Summary string `json:"summary,omitempty"`
}

// NoChange returns a Diff reporting the desired state is already present.
func NoChange(subject string) Diff {
	return Diff{Subject: subject}
}

// Text renders the diff in unified style. Common leading and trailing lines
// are shown as context.
func (d Diff) Text() string {
	if !d.Changed {
		return ""
	}
	if d.Before == "" && d.After == "" {
		return d.Summary
	}

	before := splitLines(d.Before)
	after := splitLines(d.After)

	prefix := 0
	for prefix < len(before) && prefix < len(after) && before[prefix] == after[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(before)-prefix && suffix < len(after)-prefix &&
		before[len(before)-1-suffix] == after[len(after)-1-suffix] {
		suffix++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", d.Subject, d.Subject)
	for _, line := range before[:prefix] {
		b.WriteString(" " + line + "\n")
	}
	for _, line := range before[prefix : len(before)-suffix] {
		b.WriteString("-" + line + "\n")
	}
	for _, line := range after[prefix : len(after)-suffix] {
		b.WriteString("+" + line + "\n")
	}
	for _, line := range before[len(before)-suffix:] {
		b.WriteString(" " + line + "\n")
	}
	return b.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
