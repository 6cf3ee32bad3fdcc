// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/ManuGH/podmirror/internal/store"
)

const atomNS = "http://www.w3.org/2005/Atom"

type atomDoc struct {
	XMLName  xml.Name    `xml:"feed"`
	NS       string      `xml:"xmlns,attr"`
	Title    string      `xml:"title"`
	ID       string      `xml:"id"`
	Updated  string      `xml:"updated"`
	Subtitle string      `xml:"subtitle,omitempty"`
	Links    []atomLink  `xml:"link"`
	Entries  []atomEntry `xml:"entry"`
}

type atomLink struct {
	Rel    string `xml:"rel,attr,omitempty"`
	Href   string `xml:"href,attr"`
	Type   string `xml:"type,attr,omitempty"`
	Length int64  `xml:"length,attr,omitempty"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	ID      string     `xml:"id"`
	Updated string     `xml:"updated"`
	Summary string     `xml:"summary,omitempty"`
	Links   []atomLink `xml:"link"`
}

// renderAtom builds the Atom document for a channel.
func renderAtom(ch *store.Channel, episodes []store.Episode, enc enclosureFunc, now time.Time) ([]byte, error) {
	doc := atomDoc{
		NS:       atomNS,
		Title:    ch.Title,
		ID:       "urn:podmirror:channel:" + ch.ID,
		Updated:  now.Format(time.RFC3339),
		Subtitle: ch.Description,
		Links:    []atomLink{{Rel: "alternate", Href: ch.SourceURL}},
	}

	for _, ep := range episodes {
		updated := ep.UpdatedAt
		if ep.PublishedAt != nil {
			updated = *ep.PublishedAt
		}
		entry := atomEntry{
			Title:   ep.Title,
			ID:      "urn:podmirror:item:" + ep.ExternalID,
			Updated: updated.Format(time.RFC3339),
			Summary: ep.Description,
		}
		if e := enc(ep); e != nil {
			entry.Links = append(entry.Links, atomLink{
				Rel:    "enclosure",
				Href:   e.URL,
				Type:   e.Type,
				Length: e.Length,
			})
		}
		doc.Entries = append(doc.Entries, entry)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal atom: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
