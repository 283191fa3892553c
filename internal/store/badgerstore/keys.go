package badgerstore

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Ning0612/Treewagon/internal/domain"
	"github.com/Ning0612/Treewagon/internal/store"
)

// ============================================================================
// Key Layout
// ============================================================================
//
//	n/<path>            node metadata (JSON)
//	c/<path>            file content
//	d/<dir>\x00<name>   child index of <dir>
//	r/<revision>        revision record (JSON), zero padded
//	m/head              youngest revision
//	m/uuid              repository UUID

const (
	prefixNode     = "n/"
	prefixContent  = "c/"
	prefixChild    = "d/"
	prefixRevision = "r/"

	keyHead = "m/head"
	keyUUID = "m/uuid"
)

func keyNode(p string) []byte {
	return []byte(prefixNode + p)
}

func keyContent(p string) []byte {
	return []byte(prefixContent + p)
}

func keyChild(dir, name string) []byte {
	return []byte(prefixChild + dir + "\x00" + name)
}

func keyChildPrefix(dir string) []byte {
	return []byte(prefixChild + dir + "\x00")
}

func keyRevision(rev int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixRevision, rev))
}

// node is the persisted form of a tree node
type node struct {
	Kind       domain.NodeKind   `json:"kind"`
	Size       int64             `json:"size,omitempty"`
	Revision   int64             `json:"rev"`
	Date       time.Time         `json:"date"`
	Author     string            `json:"author,omitempty"`
	Checksum   string            `json:"md5,omitempty"`
	Properties map[string]string `json:"props,omitempty"`
}

func encodeNode(n *node) ([]byte, error) {
	return json.Marshal(n)
}

func decodeNode(data []byte) (*node, error) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	return &n, nil
}

func (n *node) entry(p string) store.Entry {
	e := store.Entry{
		Name:     path.Base(p),
		Path:     p,
		Kind:     n.Kind,
		Size:     n.Size,
		ModTime:  n.Date,
		Revision: n.Revision,
		Author:   n.Author,
		Checksum: n.Checksum,
	}
	if p == "" {
		e.Name = ""
	}
	if len(n.Properties) > 0 {
		e.Properties = make(map[string]string, len(n.Properties))
		for k, v := range n.Properties {
			e.Properties[k] = v
		}
	}
	return e
}

// cleanPath normalizes a repository path: forward slashes, no leading or
// trailing separator, "" for the root. Paths escaping the root are rejected.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &store.PathError{Op: "resolve", Path: p, Err: store.ErrNotFound}
	}
	return cleaned, nil
}

// parentOf returns the parent directory of a clean path
func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
