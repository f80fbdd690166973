package core

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// TreeOptions controls which entries BuildFiletree picks up.
type TreeOptions struct {
	IncludeHidden bool
}

type Filetree struct {
	Roots []Node
}

// BuildFiletree walks every parsed path on fs. Directories are read
// recursively in name order; special files are skipped.
func BuildFiletree(fs afero.Fs, paths []ParsedPath, opts TreeOptions) (*Filetree, error) {
	var roots []Node

	for _, parsedPath := range paths {
		if parsedPath.Kind == PathDir {
			name := filepath.Base(parsedPath.FullPath)
			dirNode, err := buildDirTree(fs, parsedPath.FullPath, name, opts)
			if err != nil {
				return nil, err
			}
			roots = append(roots, dirNode)
			continue
		}

		info, err := fs.Stat(parsedPath.FullPath)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(parsedPath.FullPath)
		roots = append(roots, &File{
			path:    parsedPath.FullPath,
			name:    name,
			rel:     name,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	if len(roots) == 0 {
		return nil, fmt.Errorf("no valid paths provided")
	}

	return &Filetree{Roots: roots}, nil
}

func buildDirTree(fs afero.Fs, dirPath, rel string, opts TreeOptions) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		if !opts.IncludeHidden && strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		childPath := filepath.Join(dirPath, entry.Name())
		childRel := path.Join(rel, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(fs, childPath, childRel, opts)
			if err != nil {
				return nil, err
			}
			childDir.parent = dir
			dir.children = append(dir.children, childDir)
		case entry.Mode().IsRegular():
			dir.children = append(dir.children, &File{
				path:    childPath,
				name:    entry.Name(),
				rel:     childRel,
				size:    entry.Size(),
				modTime: entry.ModTime(),
				dir:     dir,
			})
		}
	}

	return dir, nil
}

// FlattenTree returns every file in the tree, depth first, in the order the
// roots were given. A file reachable from two arguments is listed once.
func (t *Filetree) FlattenTree() []*File {
	var files []*File
	seen := make(map[string]bool)

	var walk func(n Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *File:
			if !seen[v.path] {
				seen[v.path] = true
				files = append(files, v)
			}
		case *Dir:
			for _, child := range v.children {
				walk(child)
			}
		}
	}
	for _, root := range t.Roots {
		walk(root)
	}
	return files
}
