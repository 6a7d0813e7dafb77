package domain

import (
	"errors"
	"path"
	"strings"
)

// ErrDatasetNotFound is returned when an accession resolves to nothing.
var ErrDatasetNotFound = errors.New("dataset not found")

// RemoteFile is one downloadable file belonging to a dataset.
type RemoteFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// Dataset describes a public repository dataset and its FCS files.
type Dataset struct {
	Accession string       `json:"accession"`
	Title     string       `json:"title,omitempty"`
	Files     []RemoteFile `json:"files"`
}

// FCSFiles returns the dataset files that look like FCS acquisitions.
func (d *Dataset) FCSFiles() []RemoteFile {
	var out []RemoteFile
	for _, f := range d.Files {
		if hasFCSExt(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

func hasFCSExt(name string) bool {
	return strings.EqualFold(path.Ext(name), ".fcs")
}
