package core

import "time"

type Node interface {
	Path() string
	Name() string
}

// File is a regular file selected for upload. rel is its path relative to
// the argument it was found under, used for display.
type File struct {
	path    string
	name    string
	rel     string
	size    int64
	modTime time.Time
	dir     *Dir
}

type Dir struct {
	path     string
	name     string
	children []Node
	parent   *Dir
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Name() string {
	return f.name
}

func (f *File) RelPath() string {
	return f.rel
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) ModTime() time.Time {
	return f.modTime
}

func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) Name() string {
	return d.name
}

func (d *Dir) Children() []Node {
	return d.children
}
