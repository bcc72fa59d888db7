// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plananalyzer

import (
	"encoding/xml"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

// ShowplanNamespace is the XML namespace of SQL Server showplan documents.
const ShowplanNamespace = "http://schemas.microsoft.com/sqlserver/2004/07/showplan"

// Node is one element of a parsed plan document. Nodes are immutable once
// Parse returns; accessors hand out copies where a slice would leak.
type Node struct {
	name     string
	space    string
	attrs    map[string]string
	children []*Node
	parent   *Node
}

// Name returns the element's local name.
func (n *Node) Name() string { return n.name }

// Namespace returns the element's namespace URI.
func (n *Node) Namespace() string { return n.space }

// Parent returns the enclosing element, or nil at the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns a copy of the direct child elements.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Attr returns the raw attribute value by local name.
func (n *Node) Attr(key string) (string, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

// Float parses an attribute as a finite float. Missing or unparsable values
// report false rather than failing.
func (n *Node) Float(key string) (float64, bool) {
	raw, ok := n.attrs[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int parses an attribute as an integer. Float text is truncated.
func (n *Node) Int(key string) (int64, bool) {
	raw, ok := n.attrs[key]
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, true
	}
	f, ok := n.Float(key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool parses "1"/"true" and "0"/"false".
func (n *Node) Bool(key string) (bool, bool) {
	raw, ok := n.attrs[key]
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true":
		return true, true
	case "0", "false":
		return false, true
	}
	return false, false
}

// Walk visits n and its descendants in document order. Returning false from
// fn skips the visited node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// Find returns every descendant (not n itself) with the given local name.
func (n *Node) Find(name string) []*Node {
	var out []*Node
	for _, c := range n.children {
		c.Walk(func(x *Node) bool {
			if x.name == name {
				out = append(out, x)
			}
			return true
		})
	}
	return out
}

// First returns the first descendant with the given local name, or nil.
func (n *Node) First(name string) *Node {
	var found *Node
	for _, c := range n.children {
		c.Walk(func(x *Node) bool {
			if found != nil {
				return false
			}
			if x.name == name {
				found = x
				return false
			}
			return true
		})
		if found != nil {
			break
		}
	}
	return found
}

// Child returns the first direct child with the given local name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Document is a parsed plan: the raw text plus its element tree.
type Document struct {
	raw  string
	root *Node
}

// Raw returns the original text.
func (d *Document) Raw() string { return d.raw }

// Root returns the root element.
func (d *Document) Root() *Node { return d.root }

// Parse builds a Document from showplan XML.
func Parse(text string) (*Document, error) {
	return parse(text, ShowplanNamespace)
}

func parse(text, namespace string) (*Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &MalformedPlanError{Reason: "document is empty"}
	}

	dec := xml.NewDecoder(strings.NewReader(text))
	// Saved plans declare utf-16, but the text has already been decoded.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	var (
		root  *Node
		stack []*Node
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &MalformedPlanError{Reason: "invalid XML", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{
				name:  t.Name.Local,
				space: t.Name.Space,
				attrs: make(map[string]string, len(t.Attr)),
			}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				node.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, &MalformedPlanError{Reason: "multiple root elements"}
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				node.parent = parent
				parent.children = append(parent.children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		}
	}

	if root == nil {
		return nil, &MalformedPlanError{Reason: "document has no root element"}
	}
	if root.space == "" {
		return nil, &MalformedPlanError{Reason: "root element has no namespace"}
	}
	if root.space != namespace {
		return nil, &MalformedPlanError{Reason: "unexpected root namespace " + strconv.Quote(root.space)}
	}
	return &Document{raw: text, root: root}, nil
}
