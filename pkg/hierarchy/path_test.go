package hierarchy

import "testing"

func TestJoinAndParent(t *testing.T) {
	path := Join(Join("", "acme"), "cardiology")
	if path != "acme.cardiology" {
		t.Fatalf("unexpected path: %q", path)
	}
	if Parent(path) != "acme" {
		t.Fatalf("unexpected parent: %q", Parent(path))
	}
	if Parent("acme") != "" {
		t.Fatalf("root path should have empty parent")
	}
}

func TestDepth(t *testing.T) {
	cases := map[string]int{
		"":                      0,
		"acme":                  1,
		"acme.cardiology":       2,
		"acme.cardiology.ward1": 3,
	}
	for path, want := range cases {
		if got := Depth(path); got != want {
			t.Errorf("Depth(%q) = %d, want %d", path, got, want)
		}
	}
}

func TestContains(t *testing.T) {
	cases := []struct {
		scope, path string
		want        bool
	}{
		{"", "acme", true},
		{"acme", "acme", true},
		{"acme", "acme.cardiology", true},
		{"acme", "acme.cardiology.ward1", true},
		{"acme", "acmeville", false},
		{"acme.cardiology", "acme", false},
		{"acme", "beta.acme", false},
	}
	for _, tc := range cases {
		if got := Contains(tc.scope, tc.path); got != tc.want {
			t.Errorf("Contains(%q, %q) = %v, want %v", tc.scope, tc.path, got, tc.want)
		}
	}
}

func TestIsAncestor(t *testing.T) {
	if IsAncestor("acme", "acme") {
		t.Fatalf("a path is not its own ancestor")
	}
	if !IsAncestor("acme", "acme.cardiology") {
		t.Fatalf("expected ancestor relationship")
	}
}

func TestIsDirectChild(t *testing.T) {
	if !IsDirectChild("acme.cardiology", "acme") {
		t.Fatalf("expected direct child")
	}
	if IsDirectChild("acme.cardiology.ward1", "acme") {
		t.Fatalf("grandchild is not a direct child")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("acme.cardiology.ward_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if err := Validate("acme..ward"); err == nil {
		t.Fatalf("expected error for empty label")
	}
	if err := Validate("acme.Ward"); err == nil {
		t.Fatalf("expected error for uppercase label")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Acme Health":       "acme_health",
		"  Ward #3  ":       "ward_3",
		"cardiology":        "cardiology",
		"--":                "",
		"St. Mary's Clinic": "st_mary_s_clinic",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
