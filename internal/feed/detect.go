// Package feed turns supplier feed bytes into a sequence of raw records.
//
// It covers format detection, input decoding, the CSV/JSON/XML parsers and
// the pausable [Stream] the ingestion pipeline consumes. Everything here is
// independent of storage and of the canonical product model.
package feed

import (
	"mime"
	"path"
	"strings"
)

// Format is a supported feed encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

// formatRule lists the suffixes and content-type fragments for one format.
type formatRule struct {
	format       Format
	suffixes     []string
	contentTypes []string
}

// detectionOrder is checked top to bottom; the first hit wins.
var detectionOrder = []formatRule{
	{
		format:       FormatCSV,
		suffixes:     []string{".csv", ".tsv", ".txt"},
		contentTypes: []string{"text/csv", "application/csv", "text/tab-separated-values", "application/vnd.ms-excel"},
	},
	{
		format:       FormatJSON,
		suffixes:     []string{".json"},
		contentTypes: []string{"application/json", "text/json", "+json"},
	},
	{
		format:       FormatXML,
		suffixes:     []string{".xml", ".rss", ".atom"},
		contentTypes: []string{"application/xml", "text/xml", "+xml"},
	},
}

// Detect classifies a feed from an optional file name and content type.
// Unknown input defaults to JSON.
func Detect(fileName, contentType string) Format {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mediaType
	}

	for _, rule := range detectionOrder {
		for _, s := range rule.suffixes {
			if ext == s {
				return rule.format
			}
		}
		if ct == "" {
			continue
		}
		for _, c := range rule.contentTypes {
			if strings.HasPrefix(c, "+") {
				if strings.HasSuffix(ct, c) {
					return rule.format
				}
				continue
			}
			if ct == c {
				return rule.format
			}
		}
	}

	return FormatJSON
}

// ParseFormat parses an explicit format hint such as "CSV" or "xml".
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, true
	case FormatJSON:
		return FormatJSON, true
	case FormatXML:
		return FormatXML, true
	}
	return "", false
}
