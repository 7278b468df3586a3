package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/polisai/polis-rest/pkg/domain"
)

// MaxDepth bounds element nesting accepted by Parse.
const MaxDepth = 64

var (
	errEmptyDocument = errors.New("empty document")
	errStrayData     = errors.New("unexpected data outside root element")
	errTooDeep       = errors.New("element nesting too deep")
)

// Parse reads exactly one root element from data. Leading and trailing whitespace,
// comments and processing instructions are ignored; anything else is an error. Failures
// are returned as *domain.ParseError.
func Parse(data []byte) (*domain.Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var root *domain.Element
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ParseError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil {
				return nil, &domain.ParseError{Err: errStrayData}
			}
			root, err = readElement(dec, t, 1)
			if err != nil {
				return nil, &domain.ParseError{Err: err}
			}
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return nil, &domain.ParseError{Err: errStrayData}
			}
		case xml.Directive:
			return nil, &domain.ParseError{Err: fmt.Errorf("unexpected directive %q", string(t))}
		}
	}

	if root == nil {
		return nil, &domain.ParseError{Err: errEmptyDocument}
	}
	return root, nil
}

func readElement(dec *xml.Decoder, start xml.StartElement, depth int) (*domain.Element, error) {
	if depth > MaxDepth {
		return nil, errTooDeep
	}

	el := &domain.Element{Space: start.Name.Space, Name: start.Name.Local}
	for _, a := range start.Attr {
		el.Attrs = append(el.Attrs, domain.Attr{Space: a.Name.Space, Name: a.Name.Local, Value: a.Value})
	}

	var text bytes.Buffer
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := readElement(dec, t, depth+1)
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			el.Text = text.String()
			return el, nil
		}
	}
}

// Parser is the default domain.ElementParser.
type Parser struct{}

// ParseElement implements domain.ElementParser.
func (Parser) ParseElement(data []byte) (*domain.Element, error) {
	return Parse(data)
}
