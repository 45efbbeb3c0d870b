package hlsgot

import (
	"path/filepath"
)

// Path returns the output file path, it does not change once the download starts.
func (d *Download) Path() string {

	if d.path == "" {

		d.path = DefaultDest
		if d.Dest != "" {
			d.path = d.Dest
		}
		d.path = filepath.Join(d.Dir, d.path)
	}

	return d.path
}
