package wagon

import "strings"

// Resolve maps a logical resource name onto a path relative to the store
// root. relRoot is where the transfer root lives inside the store.
//
//	Resolve("releases", ".")          == "releases"
//	Resolve("releases", "./a/b.jar")  == "releases/a/b.jar"
//	Resolve("", "/a/b.jar")           == "a/b.jar"
func Resolve(relRoot, name string) string {
	if name == "." {
		return relRoot
	}
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, `.\`) {
		name = name[1:]
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		name = name[1:]
	}
	if relRoot == "" {
		return name
	}
	return relRoot + "/" + name
}

// splitPath returns the components of a resolved path ("" has none)
func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// relativeRoot computes the transfer root inside the store from the
// requested URL path and the discovered store root path
func relativeRoot(requested, root string) (string, bool) {
	requested = strings.TrimSuffix(requested, "/")
	root = strings.TrimSuffix(root, "/")
	if requested != root && !strings.HasPrefix(requested, root+"/") {
		return "", false
	}
	return strings.Trim(requested[len(root):], "/"), true
}
