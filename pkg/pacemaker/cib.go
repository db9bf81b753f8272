package pacemaker

import (
	"encoding/xml"
	"fmt"
)

// CIB is the part of the cluster information base the binder looks at.
type CIB struct {
	XMLName     xml.Name    `xml:"cib"`
	Resources   cibResource `xml:"configuration>resources"`
	Constraints struct {
		Colocations []cibColocation `xml:"rsc_colocation"`
		Orders      []cibOrder      `xml:"rsc_order"`
	} `xml:"configuration>constraints"`
}

type cibPrimitive struct {
	ID       string `xml:"id,attr"`
	Class    string `xml:"class,attr"`
	Provider string `xml:"provider,attr"`
	Type     string `xml:"type,attr"`
}

type cibWrapper struct {
	ID         string         `xml:"id,attr"`
	Primitives []cibPrimitive `xml:"primitive"`
}

type cibResource struct {
	Primitives []cibPrimitive `xml:"primitive"`
	Clones     []cibWrapper   `xml:"clone"`
	Masters    []cibWrapper   `xml:"master"`
	Groups     []cibWrapper   `xml:"group"`
}

type cibColocation struct {
	ID          string `xml:"id,attr"`
	Rsc         string `xml:"rsc,attr"`
	WithRsc     string `xml:"with-rsc,attr"`
	WithRscRole string `xml:"with-rsc-role,attr"`
}

type cibOrder struct {
	ID          string `xml:"id,attr"`
	First       string `xml:"first,attr"`
	FirstAction string `xml:"first-action,attr"`
	Then        string `xml:"then,attr"`
	ThenAction  string `xml:"then-action,attr"`
}

// ParseCIB decodes the output of `pcs cluster cib`.
func ParseCIB(data []byte) (*CIB, error) {
	var c CIB
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing cib: %w", err)
	}
	return &c, nil
}

// aliases returns id and the id of any clone, master or group wrapping it.
func (c *CIB) aliases(id string) []string {
	out := []string{id}
	for _, list := range [][]cibWrapper{c.Resources.Clones, c.Resources.Masters, c.Resources.Groups} {
		for _, w := range list {
			if w.ID == id {
				for _, p := range w.Primitives {
					out = append(out, p.ID)
				}
				continue
			}
			for _, p := range w.Primitives {
				if p.ID == id {
					out = append(out, w.ID)
				}
			}
		}
	}
	return out
}

// HasResource reports whether id names a primitive or a wrapper.
func (c *CIB) HasResource(id string) bool {
	for _, p := range c.Resources.Primitives {
		if p.ID == id {
			return true
		}
	}
	return len(c.aliases(id)) > 1
}

// HasColocation reports whether some colocation constraint involves id or a
// resource wrapping or wrapped by it.
func (c *CIB) HasColocation(id string) bool {
	for _, a := range c.aliases(id) {
		for _, col := range c.Constraints.Colocations {
			if col.Rsc == a || col.WithRsc == a {
				return true
			}
		}
	}
	return false
}

// HasColocationBetween matches a specific pair, in either direction.
func (c *CIB) HasColocationBetween(rsc, with string) bool {
	for _, col := range c.Constraints.Colocations {
		if (col.Rsc == rsc && col.WithRsc == with) || (col.Rsc == with && col.WithRsc == rsc) {
			return true
		}
	}
	return false
}

func (c *CIB) HasOrder(first, then string) bool {
	for _, o := range c.Constraints.Orders {
		if o.First == first && o.Then == then {
			return true
		}
	}
	return false
}
