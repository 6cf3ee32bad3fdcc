// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package feed renders podcast feeds (RSS 2.0 with iTunes tags, and Atom)
// from a channel's completed episodes and publishes them atomically.
package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/ManuGH/podmirror/internal/store"
)

const itunesNS = "http://www.itunes.com/dtds/podcast-1.0.dtd"

type rssDoc struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	ItunesNS string     `xml:"xmlns:itunes,attr"`
	Channel  rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string     `xml:"title"`
	Link          string     `xml:"link"`
	Description   string     `xml:"description"`
	Language      string     `xml:"language,omitempty"`
	LastBuildDate string     `xml:"lastBuildDate"`
	Image         *rssImage  `xml:"image,omitempty"`
	ItunesImage   *imageHref `xml:"itunes:image,omitempty"`
	Items         []rssItem  `xml:"item"`
}

type rssImage struct {
	URL   string `xml:"url"`
	Title string `xml:"title"`
	Link  string `xml:"link"`
}

type imageHref struct {
	Href string `xml:"href,attr"`
}

type rssItem struct {
	Title          string        `xml:"title"`
	Description    string        `xml:"description,omitempty"`
	GUID           rssGUID       `xml:"guid"`
	PubDate        string        `xml:"pubDate,omitempty"`
	Enclosure      *rssEnclosure `xml:"enclosure,omitempty"`
	ItunesDuration string        `xml:"itunes:duration,omitempty"`
	ItunesImage    *imageHref    `xml:"itunes:image,omitempty"`
}

type rssGUID struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// enclosureFunc resolves an episode's primary artifact, or nil when none is
// servable.
type enclosureFunc func(ep store.Episode) *rssEnclosure

// renderRSS builds the RSS 2.0 document for a channel.
func renderRSS(ch *store.Channel, episodes []store.Episode, enc enclosureFunc, now time.Time) ([]byte, error) {
	doc := rssDoc{
		Version:  "2.0",
		ItunesNS: itunesNS,
		Channel: rssChannel{
			Title:         ch.Title,
			Link:          ch.SourceURL,
			Description:   ch.Description,
			LastBuildDate: now.Format(time.RFC1123Z),
		},
	}
	if ch.ThumbnailURL != "" {
		doc.Channel.Image = &rssImage{URL: ch.ThumbnailURL, Title: ch.Title, Link: ch.SourceURL}
		doc.Channel.ItunesImage = &imageHref{Href: ch.ThumbnailURL}
	}

	for _, ep := range episodes {
		item := rssItem{
			Title:       ep.Title,
			Description: ep.Description,
			// The source item id survives retention and re-downloads, so
			// podcast clients never see a replayed episode as new.
			GUID: rssGUID{IsPermaLink: false, Value: ep.ExternalID},
		}
		if ep.PublishedAt != nil {
			item.PubDate = ep.PublishedAt.Format(time.RFC1123Z)
		}
		if ep.DurationSeconds != nil {
			item.ItunesDuration = formatDuration(*ep.DurationSeconds)
		}
		if ep.ThumbnailURL != "" {
			item.ItunesImage = &imageHref{Href: ep.ThumbnailURL}
		}
		if e := enc(ep); e != nil {
			item.Enclosure = e
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rss: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// formatDuration renders seconds as H:MM:SS or M:SS the way podcast clients
// expect.
func formatDuration(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
