package db

import "testing"

func TestQuoteQualified(t *testing.T) {
	tests := []struct {
		schema, table, want string
	}{
		{"forest", "roads", `"forest"."roads"`},
		{"a", `b"c`, `"a"."b""c"`},
	}
	for _, tt := range tests {
		if got := QuoteQualified(tt.schema, tt.table); got != tt.want {
			t.Errorf("QuoteQualified(%q, %q) = %s, want %s", tt.schema, tt.table, got, tt.want)
		}
	}
}
