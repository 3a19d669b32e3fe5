package quota

import "testing"

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		pattern string
		want    bool
	}{
		{"exact match", "example.com", "example.com", true},
		{"exact mismatch", "example.com", "example.org", false},
		{"empty domain", "", "example.com", false},
		{"empty pattern", "example.com", "", false},
		{"both empty", "", "", false},

		{"wildcard matches base", "example.com", "*.example.com", true},
		{"wildcard matches subdomain", "mail.example.com", "*.example.com", true},
		{"wildcard matches deep subdomain", "a.b.example.com", "*.example.com", true},
		{"wildcard rejects suffix without dot", "notexample.com", "*.example.com", false},
		{"wildcard rejects other domain", "example.org", "*.example.com", false},

		{"regex anchored at start", "edu.example.com", "regex:edu\\.", true},
		{"regex non-match mid-string", "example.edu.com", "regex:edu\\.", false},
		{"regex full pattern", "campus42.edu", "regex:campus[0-9]+\\.edu", true},
		{"invalid regex is no match", "example.com", "regex:[unclosed", false},

		{"list first entry", "example.com", "example.com, example.org", true},
		{"list second entry", "example.org", "example.com, example.org", true},
		{"list with wildcard entry", "mail.example.com", "other.com,*.example.com", true},
		{"list no entry matches", "example.net", "example.com, example.org", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchDomain(tt.domain, tt.pattern); got != tt.want {
				t.Errorf("MatchDomain(%q, %q) = %v, want %v", tt.domain, tt.pattern, got, tt.want)
			}
		})
	}
}
