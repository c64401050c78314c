package extraction

import (
	"regexp"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

var dayLayouts = []string{
	isoDate,
	"2006/01/02",
	"2006.01.02",
	"2006/1/2",
	"2006-1-2",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01.02.2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"January 2, 2006",
	"2 January 2006",
	"02Jan2006",
	time.RFC3339,
}

// dayFirstLayouts are tried when the leading field cannot be a month.
var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
}

var monthLayouts = []string{
	"2006-01",
	"2006/01",
	"2006.01",
	"2006/1",
	"01/2006",
	"1/2006",
	"01-2006",
	"01.2006",
	"Jan 2006",
	"January 2006",
	"Jan2006",
	"Jan-2006",
}

var datePrefix = regexp.MustCompile(`(?i)^(exp(iry|iration)?( date)?|best before( end)?|best by|use by|bb(e)?|sell by)[\s:.]*`)

// normalizeDate returns an ISO-8601 date. Month-level dates resolve to the
// first of the month. ok is false when the value could not be read.
func normalizeDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(datePrefix.ReplaceAllString(s, ""))
	if s == "" {
		return "", false
	}

	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), true
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), true
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), true
		}
	}
	return "", false
}
