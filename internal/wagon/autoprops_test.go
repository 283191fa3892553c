package wagon

import (
	"testing"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
)

func TestAutoPropsDerive(t *testing.T) {
	rules := []domain.AutoPropRule{
		{Pattern: "*.jar", Properties: map[string]string{"tree:needs-lock": "*"}},
		{Pattern: "*.sh", Properties: map[string]string{"tree:executable": "*", store.PropMimeType: "text/x-shellscript"}},
		{Pattern: "special-*.jar", Properties: map[string]string{"tree:needs-lock": ""}},
		{Pattern: "[", Properties: map[string]string{"broken": "x"}},
	}
	props := NewAutoProps(rules, map[string]string{".PROPS": "text/x-props", "txt": ""})

	tests := []struct {
		path string
		want map[string]string
	}{
		{"com/acme/app.jar", map[string]string{"tree:needs-lock": "*", store.PropMimeType: "application/java-archive"}},
		{"bin/run.sh", map[string]string{"tree:executable": "*", store.PropMimeType: "text/x-shellscript"}},
		{"lib/special-1.jar", map[string]string{"tree:needs-lock": "", store.PropMimeType: "application/java-archive"}},
		{"conf/app.props", map[string]string{store.PropMimeType: "text/x-props"}},
		{"APP.POM", map[string]string{store.PropMimeType: "text/xml"}},
		{"notes.txt", map[string]string{}},
		{"Makefile", map[string]string{}},
		{"dir.jar/readme", map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := props.Derive(tt.path)
			if len(got) != len(tt.want) {
				t.Fatalf("Derive(%q) = %v, want %v", tt.path, got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("Derive(%q)[%q] = %q, want %q", tt.path, k, got[k], v)
				}
			}
		})
	}
}

func TestAutoPropsDefaults(t *testing.T) {
	props := NewAutoProps(nil, nil)
	got := props.Derive("a/b/c.zip")
	if got[store.PropMimeType] != "application/zip" {
		t.Errorf("unexpected content type: %v", got)
	}

	// The shared default table is never modified
	NewAutoProps(nil, map[string]string{"zip": ""})
	if DefaultMimeTypes["zip"] != "application/zip" {
		t.Error("DefaultMimeTypes was modified")
	}
}
