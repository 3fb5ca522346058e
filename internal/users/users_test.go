package users

import (
	"context"
	"testing"
)

func TestStatic_Exists(t *testing.T) {
	d := NewStatic("u1", "u2")
	d.Add("u3")

	tests := []struct {
		id   string
		want bool
	}{
		{"u1", true},
		{"u3", true},
		{"nobody", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := d.Exists(context.Background(), tt.id)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Exists(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
