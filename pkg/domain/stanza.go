package domain

// StanzaKind is the closed set of top-level stanza elements.
type StanzaKind string

const (
	// KindIQ is an info/query request or response.
	KindIQ StanzaKind = "iq"
	// KindMessage is a chat, normal, groupchat or headline message.
	KindMessage StanzaKind = "message"
	// KindPresence is a presence update or subscription request.
	KindPresence StanzaKind = "presence"
)

// Kinds lists every stanza kind in a stable order.
func Kinds() []StanzaKind {
	return []StanzaKind{KindIQ, KindMessage, KindPresence}
}

// ParseStanzaKind maps an element or config name to a kind.
func ParseStanzaKind(name string) (StanzaKind, bool) {
	switch StanzaKind(name) {
	case KindIQ, KindMessage, KindPresence:
		return StanzaKind(name), true
	default:
		return "", false
	}
}

// Attr is a single element attribute.
type Attr struct {
	Space string
	Name  string
	Value string
}

// Element is a parsed XML element with its attributes, children and character data.
type Element struct {
	Space    string
	Name     string
	Attrs    []Attr
	Children []*Element
	Text     string
}

// Attr returns the value of the first unqualified attribute with the given name.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Space == "" && a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Child returns the first child with the given local name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Stanza is a decoded message unit. The original element is kept as the payload so
// routers can re-serialize it without loss.
type Stanza struct {
	Kind    StanzaKind
	ID      string
	Type    string
	From    JID
	To      JID
	Lang    string
	Element *Element
}
