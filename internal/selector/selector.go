// Package selector turns a clicked DOM element into a stable, replayable CSS locator.
package selector

import (
	"strings"
)

// Rect is an element's rendered bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Descriptor carries the attributes of a DOM element that selector inference
// and the inspector care about.
type Descriptor struct {
	Selector  string `json:"selector,omitempty"`
	Tag       string `json:"tag"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ClassName string `json:"className,omitempty"`
	Type      string `json:"type,omitempty"`
	Value     string `json:"value,omitempty"`
	Text      string `json:"text,omitempty"`
	Label     string `json:"label,omitempty"`
	Rect      *Rect  `json:"rect,omitempty"`
}

// Infer returns the locator for d. The first rule that applies wins:
//
//	#id
//	[name="value"]
//	.class.tokens
//	tag[type="value"]
//
// Infer is a pure function of the descriptor's id, name, class, tag and type.
func Infer(d Descriptor) string {
	if id := strings.TrimSpace(d.ID); id != "" {
		return "#" + id
	}
	if name := strings.TrimSpace(d.Name); name != "" {
		return `[name="` + quote(name) + `"]`
	}
	if classes := strings.Fields(d.ClassName); len(classes) > 0 {
		return "." + strings.Join(classes, ".")
	}

	tag := strings.ToLower(strings.TrimSpace(d.Tag))
	if tag == "" {
		tag = "*"
	}
	if typ := strings.TrimSpace(d.Type); typ != "" {
		return tag + `[type="` + quote(typ) + `"]`
	}
	return tag
}

// WithSelector returns d with its Selector field set from Infer.
func WithSelector(d Descriptor) Descriptor {
	d.Selector = Infer(d)
	return d
}

var attrEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return attrEscaper.Replace(s)
}
