/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/friendsincode/collexions/internal/selection"
)

// Collection is a Plex collection together with its home-screen hub state.
type Collection struct {
	RatingKey  string
	Title      string
	ChildCount int
	CountKnown bool
	Labels     []string
	// Promoted is set when the collection's hub is on the owner's home screen.
	Promoted bool
	// HubIdentifier is set when the collection already has a managed hub.
	HubIdentifier string
}

// Candidate converts the collection into a selection candidate.
func (c Collection) Candidate() selection.Candidate {
	return selection.Candidate{
		ID:         c.RatingKey,
		Title:      c.Title,
		ItemCount:  c.ChildCount,
		CountKnown: c.CountKnown,
		Labels:     append([]string(nil), c.Labels...),
	}
}

// HasLabel reports whether the collection carries label, ignoring case.
func (c Collection) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// Plex API response structures.

type mediaContainer[T any] struct {
	MediaContainer T `json:"MediaContainer"`
}

type sectionList struct {
	Directory []struct {
		Key   string `json:"key"`
		Title string `json:"title"`
		Type  string `json:"type"`
	} `json:"Directory"`
}

type collectionList struct {
	Size     int              `json:"size"`
	Metadata []collectionMeta `json:"Metadata"`
}

type collectionMeta struct {
	RatingKey  string  `json:"ratingKey"`
	Title      string  `json:"title"`
	ChildCount flexInt `json:"childCount"`
	Label      []struct {
		Tag string `json:"tag"`
	} `json:"Label"`
}

type hubList struct {
	Hub []managedHub `json:"Hub"`
}

type managedHub struct {
	Identifier           string   `json:"identifier"`
	Title                string   `json:"title"`
	PromotedToOwnHome    flexBool `json:"promotedToOwnHome"`
	PromotedToSharedHome flexBool `json:"promotedToSharedHome"`
}

// ratingKey extracts the collection rating key from a managed hub identifier
// such as "custom.collection.1.12345".
func (h managedHub) ratingKey() string {
	if !strings.HasPrefix(h.Identifier, "custom.collection.") {
		return ""
	}
	idx := strings.LastIndex(h.Identifier, ".")
	return h.Identifier[idx+1:]
}

// flexInt accepts a JSON number or a numeric string. Values that cannot be
// read as a whole number leave it unknown instead of failing the response.
type flexInt struct {
	n     int
	known bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = flexInt{}
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt{n: n, known: true}
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v == math.Trunc(v) && math.Abs(v) <= math.MaxInt32 {
		*f = flexInt{n: int(v), known: true}
	}
	return nil
}

// Value returns the parsed number and whether one was present.
func (f flexInt) Value() (int, bool) {
	return f.n, f.known
}

// flexBool accepts true/false, 1/0 and their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(string(bytes.Trim(b, `"`))) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}
