package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"approvalmailer/internal/domain"
)

// Namespaces of the OData v2 Atom format.
const (
	NamespaceAtom     = "http://www.w3.org/2005/Atom"
	NamespaceMetadata = "http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
	NamespaceData     = "http://schemas.microsoft.com/ado/2007/08/dataservices"
)

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

// Properties normally sit in entry/content; media-link entries carry them
// directly under entry.
type atomEntry struct {
	Content struct {
		Properties *propertyBag `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata properties"`
	} `xml:"http://www.w3.org/2005/Atom content"`
	Properties *propertyBag `xml:"http://schemas.microsoft.com/ado/2007/08/dataservices/metadata properties"`
}

// propertyBag flattens the children of m:properties into local-name -> text.
// Children without text (e.g. m:null="true") are left out.
type propertyBag map[string]string

func (p *propertyBag) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	if *p == nil {
		*p = propertyBag{}
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v struct {
				Text string `xml:",chardata"`
			}
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			if text := strings.TrimSpace(v.Text); text != "" {
				(*p)[t.Name.Local] = text
			}
		case xml.EndElement:
			return nil
		}
	}
}

// Decode parses an OData Atom feed into records, one per entry, in document order.
// A feed without entries yields an empty slice.
func Decode(r io.Reader) ([]domain.FeedRecord, error) {
	var f atomFeed
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty feed document")
		}
		return nil, err
	}
	if err := expectEnd(dec); err != nil {
		return nil, err
	}
	out := make([]domain.FeedRecord, 0, len(f.Entries))
	for _, e := range f.Entries {
		props := map[string]string{}
		if e.Content.Properties != nil {
			for k, v := range *e.Content.Properties {
				props[k] = v
			}
		}
		if e.Properties != nil {
			for k, v := range *e.Properties {
				props[k] = v
			}
		}
		out = append(out, domain.RecordFromProperties(props))
	}
	return out, nil
}

// expectEnd rejects anything but whitespace, comments and processing
// instructions after the root element.
func expectEnd(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("after feed element: %w", err)
		}
		switch t := tok.(type) {
		case xml.Comment, xml.ProcInst:
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return errors.New("unexpected text after feed element")
			}
		default:
			return fmt.Errorf("unexpected %T after feed element", tok)
		}
	}
}
