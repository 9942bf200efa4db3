package pipeline

import "testing"

func TestParseUpdatesByFileMarkers(t *testing.T) {
	text := "FILE: app/main.py\n```python\nprint('hi')\n```\nFILE: app/util.py\n```python\ndef f():\n    pass\n```"
	updates, err := ParseUpdates(text, "")
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	if updates[0].Filename != "app/main.py" || updates[0].Code != "print('hi')\n" {
		t.Errorf("updates[0] = %+v", updates[0])
	}
	if updates[1].Filename != "app/util.py" {
		t.Errorf("updates[1].Filename = %q, want app/util.py", updates[1].Filename)
	}
}

func TestParseUpdatesByPythonHeader(t *testing.T) {
	text := "```python:app/main.py\nprint('hi')\n```"
	updates, err := ParseUpdates(text, "")
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].Filename != "app/main.py" {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestParseUpdatesByFilenameLine(t *testing.T) {
	text := "app/main.py\n```\nprint('hi')\n```"
	updates, err := ParseUpdates(text, "")
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].Filename != "app/main.py" {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestParseUpdatesLastResort(t *testing.T) {
	text := "```\nprint('hi')\n```"
	updates, err := ParseUpdates(text, "update the app/main.py entrypoint")
	if err != nil {
		t.Fatalf("ParseUpdates: %v", err)
	}
	if len(updates) != 1 || updates[0].Filename != "app/main.py" {
		t.Fatalf("updates = %+v", updates)
	}
}

func TestParseUpdatesNoRecognizablePattern(t *testing.T) {
	if _, err := ParseUpdates("just some prose, no code at all", ""); err == nil {
		t.Fatalf("ParseUpdates with no markers = nil error, want error")
	}
}

func TestExtractIntentCascade(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"system_intent", "preamble\nSYSTEM_INTENT: tighten the retry loop\ntrailer", "tighten the retry loop"},
		{"tag_variant", "INTENT: add caching\n", "add caching"},
		{"first_line", "\n\nrefactor the scheduler\nmore text", "refactor the scheduler"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractIntent(tc.text); got != tc.want {
				t.Errorf("extractIntent(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestFileBudgetClassification(t *testing.T) {
	cases := []struct {
		path string
		want int
	}{
		{"main.go", coreFileByteBudget},
		{"internal/engine/tick.go", engineFileByteBudget},
		{"docs/notes.md", defaultByteBudget},
	}
	for _, tc := range cases {
		if got := FileBudget(tc.path); got != tc.want {
			t.Errorf("FileBudget(%q) = %d, want %d", tc.path, got, tc.want)
		}
	}
}
