package feed

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		want        Format
	}{
		{"csv suffix", "products.csv", "", FormatCSV},
		{"tsv suffix upper case", "PRODUCTS.TSV", "", FormatCSV},
		{"json suffix", "feed.json", "", FormatJSON},
		{"xml suffix", "feed.xml", "", FormatXML},
		{"rss suffix", "channel.rss", "", FormatXML},
		{"csv content type with charset", "", "text/csv; charset=utf-8", FormatCSV},
		{"json content type", "", "application/json", FormatJSON},
		{"vendor json suffix", "", "application/vnd.api+json", FormatJSON},
		{"atom content type", "", "application/atom+xml", FormatXML},
		{"text/xml", "", "text/xml", FormatXML},
		{"csv wins over xml content type", "data.csv", "application/xml", FormatCSV},
		{"csv content type wins over json suffix", "data.json", "text/csv", FormatCSV},
		{"unknown defaults to json", "feed.bin", "application/octet-stream", FormatJSON},
		{"nothing defaults to json", "", "", FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.fileName, tt.contentType); got != tt.want {
				t.Errorf("Detect(%q, %q) = %q, want %q", tt.fileName, tt.contentType, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in     string
		want   Format
		wantOK bool
	}{
		{"CSV", FormatCSV, true},
		{" json ", FormatJSON, true},
		{"xml", FormatXML, true},
		{"xlsx", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseFormat(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseFormat(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
