package stanza

import (
	"slices"

	"github.com/polisai/polis-rest/pkg/domain"
)

// Stream namespaces a top-level stanza may be qualified by.
const (
	NSClient = "jabber:client"
	NSServer = "jabber:server"
)

var (
	messageTypes  = []string{"chat", "error", "groupchat", "headline", "normal"}
	presenceTypes = []string{"error", "probe", "subscribe", "subscribed", "unavailable", "unsubscribe", "unsubscribed"}
	iqTypes       = []string{"error", "get", "result", "set"}
)

// Decode validates el as a top-level stanza. Every failure is a *domain.DecodeError whose
// reason is safe to return to the caller.
func Decode(el *domain.Element) (*domain.Stanza, error) {
	if el == nil {
		return nil, domain.NewDecodeError("missing element")
	}

	kind, ok := domain.ParseStanzaKind(el.Name)
	if !ok {
		return nil, domain.NewDecodeError("unknown tag <%s/> qualified by namespace '%s'", el.Name, el.Space)
	}
	if el.Space != "" && el.Space != NSClient && el.Space != NSServer {
		return nil, domain.NewDecodeError("unknown tag <%s/> qualified by namespace '%s'", el.Name, el.Space)
	}

	s := &domain.Stanza{Kind: kind, Element: el}
	s.ID, _ = el.Attr("id")
	s.Type, _ = el.Attr("type")
	s.Lang = lang(el)

	var err error
	if s.From, err = addressAttr(el, "from"); err != nil {
		return nil, err
	}
	if s.To, err = addressAttr(el, "to"); err != nil {
		return nil, err
	}

	switch kind {
	case domain.KindMessage:
		if s.Type != "" && !slices.Contains(messageTypes, s.Type) {
			return nil, badValue("type", el)
		}
	case domain.KindPresence:
		if s.Type != "" && !slices.Contains(presenceTypes, s.Type) {
			return nil, badValue("type", el)
		}
	case domain.KindIQ:
		if s.ID == "" {
			return nil, missingAttr("id", el)
		}
		if s.Type == "" {
			return nil, missingAttr("type", el)
		}
		if !slices.Contains(iqTypes, s.Type) {
			return nil, badValue("type", el)
		}
	}
	return s, nil
}

func addressAttr(el *domain.Element, name string) (domain.JID, error) {
	value, ok := el.Attr(name)
	if !ok || value == "" {
		return domain.JID{}, missingAttr(name, el)
	}
	jid, err := domain.ParseJID(value)
	if err != nil {
		return domain.JID{}, badValue(name, el)
	}
	return jid, nil
}

func lang(el *domain.Element) string {
	for _, a := range el.Attrs {
		if a.Name == "lang" && (a.Space == nsXML || a.Space == "xml") {
			return a.Value
		}
	}
	return ""
}

func missingAttr(name string, el *domain.Element) *domain.DecodeError {
	return domain.NewDecodeError("missing attribute '%s' in tag <%s/>", name, el.Name)
}

func badValue(name string, el *domain.Element) *domain.DecodeError {
	return domain.NewDecodeError("bad value of attribute '%s' in tag <%s/>", name, el.Name)
}

// Decoder is the default domain.MessageDecoder.
type Decoder struct{}

// DecodeStanza implements domain.MessageDecoder.
func (Decoder) DecodeStanza(el *domain.Element) (*domain.Stanza, error) {
	return Decode(el)
}
