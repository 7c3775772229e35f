// Package normalize maps raw ledger fields into the canonical forms the
// matcher compares: lower-case alphanumeric text, filler-free references,
// locale-tolerant decimal amounts and calendar dates.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	nonAlnum   = regexp.MustCompile(`[^a-z0-9 ]+`)
)

// referenceFillers are words stripped from references because they carry no
// identifying value ("PIX transfer ref 123" and "123" are the same reference).
var referenceFillers = map[string]bool{
	"pix":      true,
	"transfer": true,
	"payment":  true,
	"invoice":  true,
	"ref":      true,
	"id":       true,
	"n":        true,
	"no":       true,
}

// dateLayouts are tried in order. Ambiguous numeric dates are month first.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"01/02/2006 15:04:05",
	"1/2/2006",
	"01-02-2006",
	"01.02.2006",
	"20060102",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 January 2006",
}

// Text lower-cases s, replaces every character outside [a-z0-9 ] with a
// space and collapses runs of whitespace.
func Text(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = whitespace.ReplaceAllString(s, " ")
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Reference normalizes s like Text and then removes filler words.
func Reference(s string) string {
	tokens := strings.Fields(Text(s))
	kept := tokens[:0]
	for _, tok := range tokens {
		if !referenceFillers[tok] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// Amount parses a decimal amount written with either comma or dot as the
// decimal separator. When both appear, the one that occurs last is the
// decimal separator and the other is a thousands separator. Blank or
// unparseable input yields an absent value.
func Amount(raw string) decimal.NullDecimal {
	s := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	s = strings.TrimLeft(s, "$€£")
	if s == "" {
		return decimal.NullDecimal{}
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Date parses raw against the known layouts and returns the calendar date at
// UTC midnight, or nil when blank or unparseable.
func Date(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	return nil
}
