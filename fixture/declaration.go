package fixture

import "errors"

// Declaration collects the fixtures of one suite and applies them to a Registry in
// a single step. Problems are reported together by Apply.
type Declaration struct {
	class   string
	files   []string
	markers []marker
}

type marker struct {
	method string
	file   string
}

// NewDeclaration starts a declaration for the named suite.
func NewDeclaration(className string) *Declaration {
	return &Declaration{class: className}
}

// Files appends suite-level fixtures.
func (d *Declaration) Files(files ...string) *Declaration {
	d.files = append(d.files, files...)
	return d
}

// Mark attaches file to method. Marking the same method twice is reported by Apply.
func (d *Declaration) Mark(method, file string) *Declaration {
	d.markers = append(d.markers, marker{method: method, file: file})
	return d
}

// Apply writes the declaration into r. The suite is registered even when no files
// are declared.
func (d *Declaration) Apply(r *Registry) error {
	var errs []error
	if err := r.Declare(d.class, d.files...); err != nil {
		errs = append(errs, err)
	}
	for _, m := range d.markers {
		if err := r.Mark(d.class, m.method, m.file); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
