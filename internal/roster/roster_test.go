package roster

import "testing"

const sampleRoster = `
teammates:
  - name: Dana Oyelaran
    id: tea_42
    aliases: [dana, "d.o"]
  - name: Joel Kim
    id: tea_7
`

func TestParseAndResolve(t *testing.T) {
	r, err := Parse([]byte(sampleRoster))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cases := map[string]string{
		"dana":          "tea_42",
		"Dana":          "tea_42",
		"DANA OYELARAN": "tea_42",
		"d.o":           "tea_42",
		"joel kim":      "tea_7",
		"  Joel Kim  ":  "tea_7",
		"dana oyelaran": "tea_42",
	}
	for name, want := range cases {
		id, ok := r.Resolve(name)
		if !ok {
			t.Fatalf("Resolve(%q): expected a match", name)
		}
		if id != want {
			t.Fatalf("Resolve(%q) = %q, want %q", name, id, want)
		}
	}
	if _, ok := r.Resolve("nobody"); ok {
		t.Fatalf("unexpected match for unknown name")
	}
}

func TestParseRejectsMissingID(t *testing.T) {
	if _, err := Parse([]byte("teammates:\n  - name: Ghost\n")); err == nil {
		t.Fatalf("expected error for teammate without id")
	}
}

func TestResolveOnNilRoster(t *testing.T) {
	var r *Roster
	if _, ok := r.Resolve("dana"); ok {
		t.Fatalf("nil roster must not resolve")
	}
}
