package cache

import (
	"strings"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "namespace only",
			key:  Key{Namespace: "search"},
			want: "search",
		},
		{
			name: "params sorted by name",
			key: Key{
				Namespace: "search",
				Params: map[string]string{
					"year_min": "2020",
					"year_max": "2024",
					"limit":    "500",
				},
			},
			want: "search:limit=500:year_max=2024:year_min=2020",
		},
		{
			name: "empty param value kept",
			key: Key{
				Namespace: "search",
				Params:    map[string]string{"q": ""},
			},
			want: "search:q=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKey_OrderIndependence ensures argument order never changes the key.
func TestKey_OrderIndependence(t *testing.T) {
	a := Key{
		Namespace: "search",
		Params:    map[string]string{"year_min": "2020", "year_max": "2024", "limit": "500"},
	}
	b := Key{
		Namespace: "search",
		Params:    map[string]string{"limit": "500", "year_max": "2024", "year_min": "2020"},
	}
	if a.String() != b.String() {
		t.Errorf("param order changed key: %q vs %q", a.String(), b.String())
	}

	x := Key{Namespace: "collab", IDs: []string{"A3", "A1", "A2"}}
	y := Key{Namespace: "collab", IDs: []string{"A2", "A3", "A1", "A3"}}
	if x.String() != y.String() {
		t.Errorf("id order changed key: %q vs %q", x.String(), y.String())
	}
	if !strings.HasPrefix(x.String(), "collab:ids=3.") {
		t.Errorf("Key.String() = %q, want collab:ids=3.<digest>", x.String())
	}
}

func TestKey_DistinctSets(t *testing.T) {
	a := Key{Namespace: "collab", IDs: []string{"A1", "A2"}}.String()
	b := Key{Namespace: "collab", IDs: []string{"A1", "A3"}}.String()
	c := Key{Namespace: "collab", IDs: []string{"A1A2"}}.String()
	if a == b || a == c {
		t.Errorf("different sets share a key: %q %q %q", a, b, c)
	}
}

func TestKey_Determinism(t *testing.T) {
	key := Key{
		Namespace: "authors",
		Params:    map[string]string{"workers": "4"},
		IDs:       []string{"W9", "W2", "W7"},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, got, first)
		}
	}
}

func TestDigest(t *testing.T) {
	if got := Digest([]string{"A1", "A2"}); len(got) != 16 {
		t.Errorf("Digest() = %q, want 16 hex chars", got)
	}
	if Digest([]string{"A1", "A2"}) == Digest([]string{"A2", "A1"}) {
		t.Error("Digest() should be order sensitive; callers sort first")
	}
}
