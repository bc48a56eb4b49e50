package gitrepo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// LocateValuesFiles returns every file under root matching glob (a
// doublestar pattern, e.g. "**/values-*.yaml"), sorted.
func LocateValuesFiles(root, glob string) ([]string, error) {
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, glob)
	if err != nil {
		return nil, fmt.Errorf("glob %s under %s: %w", glob, root, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(root, m))
	}
	return out, nil
}

// RewriteImageTag rewrites the "tag:" scalar reachable by walking keyPath
// from the document root of the YAML file at path to newTag, preserving the
// original key order, comments, and quoting style. It returns whether the
// tag value actually changed. keyPath scopes the rewrite to the one node
// the caller means to touch — a document can legitimately hold more than
// one key literally named "tag" (a subchart image, a sibling service
// block), and a blind whole-document scan would corrupt those.
func RewriteImageTag(path string, keyPath []string, newTag string) (bool, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}

	node := navigateToPath(&doc, keyPath)
	if node == nil {
		return false, fmt.Errorf("path %v not found in %s", keyPath, path)
	}
	if node.Value == newTag {
		return false, nil
	}
	node.Value = newTag

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// CurrentImageTag reads the scalar reachable by walking keyPath from the
// document root of the YAML file at path, or "" if the path does not
// resolve.
func CurrentImageTag(path string, keyPath []string) (string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	node := navigateToPath(&doc, keyPath)
	if node == nil {
		return "", nil
	}
	return node.Value, nil
}

// navigateToPath walks a mapping tree following keyPath, returning the
// final scalar node or nil if any segment is missing.
func navigateToPath(n *yaml.Node, keyPath []string) *yaml.Node {
	cur := n
	if cur.Kind == yaml.DocumentNode && len(cur.Content) > 0 {
		cur = cur.Content[0]
	}
	for _, key := range keyPath {
		if cur == nil || cur.Kind != yaml.MappingNode {
			return nil
		}
		found := false
		for i := 0; i+1 < len(cur.Content); i += 2 {
			if cur.Content[i].Value == key {
				cur = cur.Content[i+1]
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	if cur == nil || cur.Kind != yaml.ScalarNode {
		return nil
	}
	return cur
}

