package crawler

import (
	"strings"
	"testing"
)

func TestDedupeSeeds(t *testing.T) {
	tests := []struct {
		name  string
		seeds []string
		want  []string
	}{
		{
			name:  "keeps order",
			seeds: []string{"https://b.example.com/", "https://a.example.com/"},
			want:  []string{"https://b.example.com/", "https://a.example.com/"},
		},
		{
			name:  "duplicate",
			seeds: []string{"https://example.com/page1", "https://example.com/page1"},
			want:  []string{"https://example.com/page1"},
		},
		{
			name:  "fragment and trailing slash",
			seeds: []string{"https://example.com/list/", "https://example.com/list#top", "https://EXAMPLE.com/list"},
			want:  []string{"https://example.com/list"},
		},
		{
			name:  "root slash kept",
			seeds: []string{"https://example.com/"},
			want:  []string{"https://example.com/"},
		},
		{
			name:  "query distinguishes",
			seeds: []string{"https://example.com/s?page=1", "https://example.com/s?page=2"},
			want:  []string{"https://example.com/s?page=1", "https://example.com/s?page=2"},
		},
		{
			name:  "invalid dropped",
			seeds: []string{"://invalid", "relative/path", "  ", "https://example.com/ok"},
			want:  []string{"https://example.com/ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DedupeSeeds(tt.seeds)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("DedupeSeeds() = %v, want %v", got, tt.want)
			}
		})
	}
}
