package wagon

import (
	"path"
	"strings"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
)

// DefaultMimeTypes is the built-in extension to content type table.
// Configured entries are merged over it.
var DefaultMimeTypes = map[string]string{
	"jar":  "application/java-archive",
	"war":  "application/java-archive",
	"ear":  "application/java-archive",
	"zip":  "application/zip",
	"gz":   "application/gzip",
	"tgz":  "application/gzip",
	"pom":  "text/xml",
	"xml":  "text/xml",
	"json": "application/json",
	"txt":  "text/plain",
	"md5":  "text/plain",
	"sha1": "text/plain",
	"asc":  "text/plain",
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"png":  "image/png",
	"gif":  "image/gif",
	"jpg":  "image/jpeg",
	"svg":  "image/svg+xml",
}

// AutoProps derives the properties attached to newly added files
type AutoProps struct {
	rules     []domain.AutoPropRule
	mimeTypes map[string]string
}

// NewAutoProps creates a deriver from glob rules and an extension table.
// mimeTypes entries override DefaultMimeTypes; an empty value removes one.
func NewAutoProps(rules []domain.AutoPropRule, mimeTypes map[string]string) *AutoProps {
	table := make(map[string]string, len(DefaultMimeTypes)+len(mimeTypes))
	for ext, mt := range DefaultMimeTypes {
		table[ext] = mt
	}
	for ext, mt := range mimeTypes {
		ext = strings.ToLower(strings.TrimPrefix(ext, "."))
		if mt == "" {
			delete(table, ext)
			continue
		}
		table[ext] = mt
	}
	return &AutoProps{rules: rules, mimeTypes: table}
}

// Derive returns the properties for the file at p.
// Rules match the base name; later rules override earlier ones. When no
// rule sets a content type, the extension table is consulted.
func (a *AutoProps) Derive(p string) map[string]string {
	props := make(map[string]string)
	base := path.Base(p)

	for _, rule := range a.rules {
		if ok, err := path.Match(rule.Pattern, base); err != nil || !ok {
			continue
		}
		for name, value := range rule.Properties {
			props[name] = value
		}
	}

	if _, ok := props[store.PropMimeType]; !ok {
		if dot := strings.LastIndexByte(base, '.'); dot >= 0 {
			if mt, ok := a.mimeTypes[strings.ToLower(base[dot+1:])]; ok {
				props[store.PropMimeType] = mt
			}
		}
	}
	return props
}
