package inbox

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"sort"
	"time"
)

const listingTimeFormat = "20060102T150405Z"

// Listing is an x-obex/folder-listing document.
type Listing struct {
	XMLName xml.Name       `xml:"folder-listing"`
	Version string         `xml:"version,attr"`
	Parent  *struct{}      `xml:"parent-folder"`
	Folders []ListingEntry `xml:"folder"`
	Files   []ListingEntry `xml:"file"`
}

type ListingEntry struct {
	Name     string `xml:"name,attr"`
	Size     int64  `xml:"size,attr,omitempty"`
	Modified string `xml:"modified,attr,omitempty"`
}

// ModTime parses the modified attribute.
func (e ListingEntry) ModTime() (time.Time, error) {
	return time.Parse(listingTimeFormat, e.Modified)
}

func buildListing(dir string, hasParent bool) (Listing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Listing{}, err
	}
	l := Listing{Version: "1.0"}
	if hasParent {
		l.Parent = &struct{}{}
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		entry := ListingEntry{
			Name:     e.Name(),
			Modified: info.ModTime().UTC().Format(listingTimeFormat),
		}
		switch {
		case e.IsDir():
			l.Folders = append(l.Folders, entry)
		case info.Mode().IsRegular():
			entry.Size = info.Size()
			l.Files = append(l.Files, entry)
		}
	}
	sort.Slice(l.Folders, func(i, j int) bool { return l.Folders[i].Name < l.Folders[j].Name })
	sort.Slice(l.Files, func(i, j int) bool { return l.Files[i].Name < l.Files[j].Name })
	return l, nil
}

const listingPreamble = xml.Header + `<!DOCTYPE folder-listing SYSTEM "obex-folder-listing.dtd">` + "\n"

// MarshalListing renders l as a folder-listing document.
func MarshalListing(l Listing) ([]byte, error) {
	body, err := xml.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("inbox: marshal listing: %w", err)
	}
	return append([]byte(listingPreamble), append(body, '\n')...), nil
}

// ParseListing decodes a folder-listing document received from a server.
func ParseListing(b []byte) (Listing, error) {
	var l Listing
	d := xml.NewDecoder(bytes.NewReader(b))
	d.Strict = false
	if err := d.Decode(&l); err != nil {
		return Listing{}, fmt.Errorf("inbox: parse listing: %w", err)
	}
	return l, nil
}
