package cmd

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLastLines(t *testing.T) {
	input := "a reload 1\nb\nc reload 2\nd\ne reload 3\n"
	tests := []struct {
		name  string
		n     int
		match string
		want  []string
	}{
		{"tail", 2, "", []string{"d", "e reload 3"}},
		{"more_than_available", 10, "", []string{"a reload 1", "b", "c reload 2", "d", "e reload 3"}},
		{"filtered", 2, "reload", []string{"c reload 2", "e reload 3"}},
		{"zero", 0, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := lastLines(strings.NewReader(input), tt.n, tt.match)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("lastLines mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
