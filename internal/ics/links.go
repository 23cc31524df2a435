package ics

import (
	"fmt"
	"net/url"
)

const googleCalendarBase = "http://www.google.com/calendar/render"

// Links are the three ways the landing page offers the feed.
type Links struct {
	HTTP   string // http:// or https://, for download
	Webcal string // webcal://, for subscribe
	Google string // Google Calendar "add by URL" link
}

// DeriveLinks builds the presentation variants of feedURL.
func DeriveLinks(feedURL string) (Links, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return Links{}, fmt.Errorf("parse feed url: %w", err)
	}

	httpURL := *u
	if httpURL.Scheme != "https" {
		httpURL.Scheme = "http"
	}

	webcalURL := *u
	webcalURL.Scheme = "webcal"
	webcal := webcalURL.String()

	google, err := url.Parse(googleCalendarBase)
	if err != nil {
		return Links{}, fmt.Errorf("parse google base: %w", err)
	}
	q := google.Query()
	q.Set("cid", webcal)
	google.RawQuery = q.Encode()

	return Links{
		HTTP:   httpURL.String(),
		Webcal: webcal,
		Google: google.String(),
	}, nil
}
