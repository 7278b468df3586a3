package stanza

import (
	"bytes"
	"encoding/xml"
	"strconv"

	"github.com/polisai/polis-rest/pkg/domain"
)

const nsXML = "http://www.w3.org/XML/1998/namespace"

// Marshal serializes el back to XML. Namespace declarations are regenerated from the
// element spaces, so the output is equivalent to the parsed input but not byte-identical.
func Marshal(el *domain.Element) []byte {
	var buf bytes.Buffer
	writeElement(&buf, el, "")
	return buf.Bytes()
}

func writeElement(buf *bytes.Buffer, el *domain.Element, parentSpace string) {
	buf.WriteByte('<')
	buf.WriteString(el.Name)
	if el.Space != parentSpace {
		writeAttr(buf, "xmlns", el.Space)
	}

	prefixes := 0
	for _, a := range el.Attrs {
		switch {
		case a.Space == "xmlns" || (a.Space == "" && a.Name == "xmlns"):
			// regenerated above
		case a.Space == "":
			writeAttr(buf, a.Name, a.Value)
		case a.Space == nsXML || a.Space == "xml":
			writeAttr(buf, "xml:"+a.Name, a.Value)
		default:
			prefixes++
			prefix := "a" + strconv.Itoa(prefixes)
			writeAttr(buf, "xmlns:"+prefix, a.Space)
			writeAttr(buf, prefix+":"+a.Name, a.Value)
		}
	}

	if len(el.Children) == 0 && el.Text == "" {
		buf.WriteString("/>")
		return
	}
	buf.WriteByte('>')
	if el.Text != "" {
		_ = xml.EscapeText(buf, []byte(el.Text))
	}
	for _, child := range el.Children {
		writeElement(buf, child, el.Space)
	}
	buf.WriteString("</")
	buf.WriteString(el.Name)
	buf.WriteByte('>')
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	_ = xml.EscapeText(buf, []byte(value))
	buf.WriteByte('"')
}
