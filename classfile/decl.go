package classfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Decl describes a class without code. Catalog declarations, module
// manifests and tests build class files from it.
type Decl struct {
	Name          string         `yaml:"name"`
	Super         string         `yaml:"super,omitempty"`
	Interfaces    []string       `yaml:"interfaces,omitempty"`
	Flags         []string       `yaml:"flags,omitempty"`
	Annotations   []Annotation   `yaml:"annotations,omitempty"`
	TypeArguments []TypeArgument `yaml:"typeArguments,omitempty"`
	Fields        []Field        `yaml:"fields,omitempty"`

	// Path overrides the location of the class file inside a module. It
	// exists to produce misplaced classes.
	Path string `yaml:"path,omitempty"`
}

// Access folds the declared flags. Without flags a class is public and
// concrete; "interface" and "annotation" imply abstract.
func (d Decl) Access() (uint32, error) {
	access := AccPublic
	explicit := false
	for _, name := range d.Flags {
		f, err := ParseFlag(name)
		if err != nil {
			return 0, err
		}
		if f == AccPublic || f == AccPrivate || f == AccProtected {
			if !explicit {
				access &^= AccPublic
				explicit = true
			}
		}
		access |= f
	}
	if access&AccAnnotation != 0 {
		access |= AccInterface
	}
	if access&AccInterface != 0 {
		access |= AccAbstract
	} else {
		access |= AccSuper
	}
	return access, nil
}

// FileName is where the class lives inside a module.
func (d Decl) FileName() string {
	if d.Path != "" {
		return d.Path
	}
	return FileName(d.Name)
}

// Accept replays the declaration into a ClassVisitor.
func (d Decl) Accept(cv ClassVisitor) error {
	access, err := d.Access()
	if err != nil {
		return fmt.Errorf("class %s: %w", d.Name, err)
	}
	cv.Visit(Header{Access: access, Name: d.Name, Super: d.Super, Interfaces: d.Interfaces})
	for _, a := range d.Annotations {
		cv.VisitAnnotation(a)
	}
	for _, t := range d.TypeArguments {
		cv.VisitTypeArgument(t)
	}
	for _, f := range d.Fields {
		cv.VisitField(f)
	}
	cv.VisitEnd()
	return nil
}

// Bytes encodes the declaration.
func (d Decl) Bytes() ([]byte, error) {
	w := NewWriter(ComputeMaxs)
	if err := d.Accept(w); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// Manifest is a YAML list of class declarations.
type Manifest struct {
	Classes []Decl `yaml:"classes"`
}

// ReadManifest decodes a YAML manifest.
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	for i, c := range m.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("manifest: class %d: %w: missing name", i, ErrMalformedClass)
		}
	}
	return &m, nil
}

// WriteDir writes every declared class below dir.
func (m *Manifest) WriteDir(dir string) error {
	for _, c := range m.Classes {
		data, err := c.Bytes()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, filepath.FromSlash(c.FileName()))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("manifest: %w", err)
		}
	}
	return nil
}
