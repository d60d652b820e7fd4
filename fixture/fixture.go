// Package fixture associates fixture files with tests and resolves, for a running
// test, the ordered list of fixtures to load.
//
// Fixtures are declared per suite (the top-level test function) and optionally
// marked on a single suite method. The effective list for a test is the suite's
// fixtures followed by the method's marker, so a method fixture can rely on the
// suite baseline already being present.
//
//	reg := fixture.NewRegistry()
//	reg.Declare("TestOrders", "base.sql")
//	_ = reg.Mark("TestOrders", "TestRefund", "refund.sql")
//
//	files, _ := reg.Resolve("TestOrders/TestRefund") // [base.sql refund.sql]
package fixture

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrTestIntrospection is returned when a test identity is malformed or does not
	// name a registered suite or method.
	ErrTestIntrospection = errors.New("cannot resolve test identity")
	// ErrNoFixturesDeclared is returned when a test resolves to no fixtures at all.
	// Every test run by the harness must declare at least one.
	ErrNoFixturesDeclared = errors.New("no fixtures declared")
	// ErrDuplicateMarker is returned when a second fixture is marked on the same method.
	ErrDuplicateMarker = errors.New("method already has a fixture marker")
	// ErrInvalidDeclaration is returned for empty names or markers on unknown methods.
	ErrInvalidDeclaration = errors.New("invalid fixture declaration")
)

// Identity is a test identity split into suite and method. Method is empty for a
// plain top-level test.
type Identity struct {
	Class  string
	Method string
}

func (id Identity) String() string {
	if id.Method == "" {
		return id.Class
	}
	return id.Class + "/" + id.Method
}

// ParseIdentity splits a test name as reported by testing.T.Name. The first segment
// is the suite, the second the method; deeper subtest segments are ignored.
// Registry.Resolve also accepts suites registered under a nested test name.
func ParseIdentity(testID string) (Identity, error) {
	parts := strings.Split(testID, "/")
	if testID == "" || parts[0] == "" || (len(parts) > 1 && parts[1] == "") {
		return Identity{}, fmt.Errorf("%w: malformed test identity %q", ErrTestIntrospection, testID)
	}
	id := Identity{Class: parts[0]}
	if len(parts) > 1 {
		id.Method = parts[1]
	}
	return id, nil
}

type class struct {
	files   []string
	methods map[string]struct{} // nil means methods are not tracked
	markers map[string]string
}

// Registry holds fixture declarations keyed by suite and method. It is safe for
// concurrent declaration; resolution never mutates it.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*class
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*class)}
}

func (r *Registry) classLocked(name string) *class {
	c, ok := r.classes[name]
	if !ok {
		c = &class{markers: make(map[string]string)}
		r.classes[name] = c
	}
	return c
}

// Declare registers a suite and appends files to its fixture list, in order.
// Declaring with no files registers the suite without fixtures.
func (r *Registry) Declare(className string, files ...string) error {
	if className == "" {
		return fmt.Errorf("%w: empty suite name", ErrInvalidDeclaration)
	}
	if i := slices.Index(files, ""); i >= 0 {
		return fmt.Errorf("%w: empty fixture name at position %d for %s", ErrInvalidDeclaration, i, className)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classLocked(className)
	c.files = append(c.files, files...)
	return nil
}

// RegisterMethods records the methods a suite has. Once a suite has methods
// registered, resolving or marking any other method of it fails. On error the
// registry is left unchanged.
func (r *Registry) RegisterMethods(className string, methods ...string) error {
	if className == "" {
		return fmt.Errorf("%w: empty suite name", ErrInvalidDeclaration)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	known := make(map[string]struct{}, len(methods))
	c, ok := r.classes[className]
	if ok {
		maps.Copy(known, c.methods)
	}
	for _, m := range methods {
		known[m] = struct{}{}
	}
	if ok {
		for m := range c.markers {
			if _, found := known[m]; !found {
				return fmt.Errorf("%w: marker on unknown method %s/%s", ErrInvalidDeclaration, className, m)
			}
		}
	}
	r.classLocked(className).methods = known
	return nil
}

// Forget removes a suite together with its fixtures, markers and methods, so it can
// be declared again from scratch.
func (r *Registry) Forget(className string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.classes, className)
}

// Mark attaches one fixture to one method of a suite, registering the suite if
// needed. A method carries at most one marker.
func (r *Registry) Mark(className, method, file string) error {
	if className == "" || method == "" || file == "" {
		return fmt.Errorf("%w: suite, method and fixture are required (got %q, %q, %q)",
			ErrInvalidDeclaration, className, method, file)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classLocked(className)
	if c.methods != nil {
		if _, ok := c.methods[method]; !ok {
			return fmt.Errorf("%w: marker on unknown method %s/%s", ErrInvalidDeclaration, className, method)
		}
	}
	if prev, ok := c.markers[method]; ok {
		return fmt.Errorf("%w: %s/%s is marked with %q, cannot add %q", ErrDuplicateMarker, className, method, prev, file)
	}
	c.markers[method] = file
	return nil
}

// Resolve returns the fixtures for the test named testID: the suite's fixtures in
// declaration order followed by the method's marker. The suite is the longest
// registered prefix of testID, so suites running as subtests resolve too. The
// segment after the suite, if any, is the method. The returned slice is owned by
// the caller.
func (r *Registry) Resolve(testID string) ([]string, error) {
	parsed, err := ParseIdentity(testID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	id, c, ok := r.matchLocked(testID)
	if !ok {
		return nil, fmt.Errorf("%w: suite %q is not registered", ErrTestIntrospection, parsed.Class)
	}
	if id.Method != "" && !c.knows(id.Method) {
		// The testing package renames repeated subtests to name#01, name#02, ...
		if base, ok := trimRepeatSuffix(id.Method); ok && c.knows(base) {
			id.Method = base
		}
	}
	if id.Method != "" && c.methods != nil {
		if _, ok := c.methods[id.Method]; !ok {
			return nil, fmt.Errorf("%w: %s has no method %q", ErrTestIntrospection, id.Class, id.Method)
		}
	}

	files := slices.Clone(c.files)
	if f, ok := c.markers[id.Method]; ok && id.Method != "" {
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoFixturesDeclared, id)
	}
	return files, nil
}

func (c *class) knows(method string) bool {
	if _, ok := c.markers[method]; ok {
		return true
	}
	_, ok := c.methods[method]
	return ok
}

func trimRepeatSuffix(name string) (string, bool) {
	i := strings.LastIndexByte(name, '#')
	if i <= 0 || i == len(name)-1 {
		return "", false
	}
	for _, r := range name[i+1:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return name[:i], true
}

func (r *Registry) matchLocked(testID string) (Identity, *class, bool) {
	parts := strings.Split(testID, "/")
	for i := len(parts); i > 0; i-- {
		name := strings.Join(parts[:i], "/")
		c, ok := r.classes[name]
		if !ok {
			continue
		}
		id := Identity{Class: name}
		if i < len(parts) {
			id.Method = parts[i]
		}
		return id, c, true
	}
	return Identity{}, nil, false
}
