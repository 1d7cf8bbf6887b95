package ledger

import (
	"fmt"
	"path/filepath"
)

// Tree is a root ledger file together with every file it transitively
// includes. Files appear in depth-first include order, root first.
type Tree struct {
	Root  *File
	Files []*File
}

// Load parses the root file and follows include directives, each resolved
// relative to the directory of the file that declared it.
func Load(rootPath string) (*Tree, error) {
	tree := &Tree{}
	seen := map[string]bool{}

	var load func(path string) (*File, error)
	load = func(path string) (*File, error) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if seen[abs] {
			return nil, nil
		}
		seen[abs] = true

		file, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		tree.Files = append(tree.Files, file)

		dir := filepath.Dir(path)
		for _, inc := range file.Includes {
			if _, err := load(filepath.Join(dir, inc.Path)); err != nil {
				return nil, err
			}
		}
		return file, nil
	}

	root, err := load(rootPath)
	if err != nil {
		return nil, err
	}
	tree.Root = root
	return tree, nil
}

// Opens returns every open directive across the tree, in file order.
func (t *Tree) Opens() []*Open {
	var opens []*Open
	for _, f := range t.Files {
		opens = append(opens, f.Opens...)
	}
	return opens
}

// Transactions returns every transaction across the tree, in file order.
func (t *Tree) Transactions() []*Transaction {
	var txns []*Transaction
	for _, f := range t.Files {
		txns = append(txns, f.Transactions...)
	}
	return txns
}

// Customs returns every custom directive across the tree, in file order.
func (t *Tree) Customs() []*Custom {
	var customs []*Custom
	for _, f := range t.Files {
		customs = append(customs, f.Customs...)
	}
	return customs
}
