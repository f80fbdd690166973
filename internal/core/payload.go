package core

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Payload is the batch of files one upload command sends.
type Payload struct {
	Files      []*File
	TotalBytes int64
}

func NewPayload(files []*File) *Payload {
	p := &Payload{Files: files}
	for _, f := range files {
		p.TotalBytes += f.size
	}
	return p
}

// Oversized returns the files larger than limit. A limit <= 0 disables the
// check.
func (p *Payload) Oversized(limit int64) []*File {
	if limit <= 0 {
		return nil
	}
	var out []*File
	for _, f := range p.Files {
		if f.size > limit {
			out = append(out, f)
		}
	}
	return out
}

func (p *Payload) Summary() string {
	noun := "files"
	if len(p.Files) == 1 {
		noun = "file"
	}
	return fmt.Sprintf("%d %s, %s", len(p.Files), noun, humanize.IBytes(uint64(p.TotalBytes)))
}
