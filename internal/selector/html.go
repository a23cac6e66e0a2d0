package selector

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoElement is returned when an HTML fragment contains no element.
var ErrNoElement = errors.New("fragment contains no element")

// DescriptorFromHTML parses an HTML fragment and describes its first element.
func DescriptorFromHTML(fragment string) (Descriptor, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse fragment: %w", err)
	}
	for _, n := range nodes {
		if el := firstElement(n); el != nil {
			return describeNode(el), nil
		}
	}
	return Descriptor{}, ErrNoElement
}

func firstElement(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if el := firstElement(c); el != nil {
			return el
		}
	}
	return nil
}

func describeNode(n *html.Node) Descriptor {
	d := Descriptor{Tag: strings.ToLower(n.Data)}
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "id":
			d.ID = a.Val
		case "name":
			d.Name = a.Val
		case "class":
			d.ClassName = a.Val
		case "type":
			d.Type = a.Val
		case "value":
			d.Value = a.Val
		}
	}
	d.Text = textOf(n)
	return WithSelector(d)
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
