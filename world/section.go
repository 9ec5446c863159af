// This file is part of go-mc/server project.
// Copyright (C) 2023.  Tnze
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package world

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrSectionNotFound = errors.New("section not found")

// DataSection is one node of a hierarchical content file. Readers never
// fail: a missing key yields the supplied default. Methods are safe on a
// nil section.
type DataSection struct {
	name string
	node *yaml.Node
}

// ParseSection parses a YAML document into its root section.
func ParseSection(name string, data []byte) (*DataSection, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse section %s: %w", name, err)
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root = doc.Content[0]
	}
	if root.Kind == 0 || root.Kind == yaml.DocumentNode {
		root = &yaml.Node{Kind: yaml.MappingNode}
	}
	return &DataSection{name: name, node: root}, nil
}

func (s *DataSection) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// String is the scalar value of the section. For a map it falls back to
// its "value" key.
func (s *DataSection) String() string {
	if s == nil {
		return ""
	}
	switch s.node.Kind {
	case yaml.ScalarNode:
		return s.node.Value
	case yaml.MappingNode:
		return s.ReadString("value", "")
	}
	return ""
}

func (s *DataSection) child(key string) *DataSection {
	if s == nil || s.node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(s.node.Content); i += 2 {
		if s.node.Content[i].Value == key {
			return &DataSection{name: key, node: s.node.Content[i+1]}
		}
	}
	return nil
}

// Open walks a slash separated key path. It returns nil if any step is
// missing.
func (s *DataSection) Open(p string) *DataSection {
	if p == "" {
		return s
	}
	cur := s
	for _, key := range strings.Split(p, "/") {
		cur = cur.child(key)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Each returns every child called name. A sequence value counts as one
// child per element.
func (s *DataSection) Each(name string) []*DataSection {
	var out []*DataSection
	for _, e := range s.Entries() {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

// Entries lists the children in document order, expanding sequences.
func (s *DataSection) Entries() []*DataSection {
	if s == nil || s.node.Kind != yaml.MappingNode {
		return nil
	}
	var out []*DataSection
	for i := 0; i+1 < len(s.node.Content); i += 2 {
		key, val := s.node.Content[i].Value, s.node.Content[i+1]
		if val.Kind == yaml.SequenceNode && !isNumberList(val) {
			for _, item := range val.Content {
				out = append(out, &DataSection{name: key, node: item})
			}
			continue
		}
		out = append(out, &DataSection{name: key, node: val})
	}
	return out
}

// isNumberList tells vectors apart from repeated sections.
func isNumberList(n *yaml.Node) bool {
	if len(n.Content) == 0 {
		return false
	}
	for _, c := range n.Content {
		if c.Kind == yaml.SequenceNode {
			if !isNumberList(c) {
				return false
			}
			continue
		}
		if c.Kind != yaml.ScalarNode {
			return false
		}
		if _, err := strconv.ParseFloat(c.Value, 64); err != nil {
			return false
		}
	}
	return true
}

func (s *DataSection) Decode(v any) error {
	if s == nil {
		return ErrSectionNotFound
	}
	return s.node.Decode(v)
}

func (s *DataSection) ReadString(p, def string) string {
	c := s.Open(p)
	if c == nil || c.node.Kind != yaml.ScalarNode {
		return def
	}
	return c.node.Value
}

func (s *DataSection) ReadFloat(p string, def float64) float64 {
	var v float64
	if err := s.Open(p).Decode(&v); err != nil {
		return def
	}
	return v
}

func (s *DataSection) ReadInt(p string, def int) int {
	var v int
	if err := s.Open(p).Decode(&v); err != nil {
		return def
	}
	return v
}

func (s *DataSection) ReadBool(p string, def bool) bool {
	var v bool
	if err := s.Open(p).Decode(&v); err != nil {
		return def
	}
	return v
}

func (s *DataSection) ReadVector3(p string, def Vector3) Vector3 {
	v, ok := s.Open(p).asVector3()
	if !ok {
		return def
	}
	return v
}

func (s *DataSection) asVector3() (Vector3, bool) {
	var a []float64
	if err := s.Decode(&a); err != nil || len(a) != 3 {
		return Vector3{}, false
	}
	return Vector3{a[0], a[1], a[2]}, true
}

// ReadMatrix reads four rows of three numbers: the axes then the translation.
func (s *DataSection) ReadMatrix(p string) (Matrix, bool) {
	var rows [][]float64
	if err := s.Open(p).Decode(&rows); err != nil || len(rows) != 4 {
		return IdentityMatrix, false
	}
	var m Matrix
	for i, r := range rows {
		if len(r) != 3 {
			return IdentityMatrix, false
		}
		m[i] = Vector3{r[0], r[1], r[2]}
	}
	return m, true
}

// ReadBoundingBox reads a {min, max} pair.
func (s *DataSection) ReadBoundingBox(p string) (BoundingBox, bool) {
	c := s.Open(p)
	lo, ok1 := c.Open("min").asVector3()
	hi, ok2 := c.Open("max").asVector3()
	if !ok1 || !ok2 {
		return BoundingBox{}, false
	}
	return BoundingBox{Min: lo, Max: hi}, true
}

// Resources opens sections from a file system. A section path may continue
// past a file name into the document, as in "dir/a.chunk/boundingBox".
type Resources struct {
	fsys fs.FS
}

func NewResources(fsys fs.FS) *Resources { return &Resources{fsys: fsys} }

func (r *Resources) OpenSection(p string) (*DataSection, error) {
	segs := strings.Split(path.Clean(p), "/")
	for i := 1; i <= len(segs); i++ {
		file := path.Join(segs[:i]...)
		info, err := fs.Stat(r.fsys, file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", p, ErrSectionNotFound)
			}
			return nil, fmt.Errorf("stat %s: %w", file, err)
		}
		if info.IsDir() {
			continue
		}
		data, err := fs.ReadFile(r.fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		root, err := ParseSection(path.Base(file), data)
		if err != nil {
			return nil, err
		}
		sub := root.Open(path.Join(segs[i:]...))
		if sub == nil {
			return nil, fmt.Errorf("%s: %w", p, ErrSectionNotFound)
		}
		return sub, nil
	}
	return nil, fmt.Errorf("%s is a directory: %w", p, ErrSectionNotFound)
}

func (r *Resources) ReadFile(p string) ([]byte, error) {
	return fs.ReadFile(r.fsys, path.Clean(p))
}

func (r *Resources) Exists(p string) bool {
	_, err := fs.Stat(r.fsys, path.Clean(p))
	return err == nil
}
