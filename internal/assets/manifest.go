package assets

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const xlinkNS = "http://www.w3.org/1999/xlink"

// readManifest returns the href of every <image> directly under the root
// <svg> element, deduplicated, in document order. Inline (data:) and
// absolute references are dropped.
func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseManifest(f)
}

func parseManifest(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		refs  []string
		seen  = map[string]bool{}
		depth int
		root  bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				if t.Name.Local != "svg" {
					return nil, fmt.Errorf("parse manifest: root element is <%s>, want <svg>", t.Name.Local)
				}
				root = true
				continue
			}
			if depth != 2 || t.Name.Local != "image" {
				continue
			}
			href := imageHref(t.Attr)
			if href == "" || seen[href] || !relativeRef(href) {
				continue
			}
			seen[href] = true
			refs = append(refs, href)
		case xml.EndElement:
			depth--
		}
	}
	if !root {
		return nil, errors.New("parse manifest: empty document")
	}
	return refs, nil
}

func imageHref(attrs []xml.Attr) string {
	var plain string
	for _, a := range attrs {
		if a.Name.Local != "href" {
			continue
		}
		// encoding/xml resolves the xlink prefix to its namespace URL.
		if a.Name.Space == xlinkNS || a.Name.Space == "xlink" {
			return strings.TrimSpace(a.Value)
		}
		if a.Name.Space == "" {
			plain = strings.TrimSpace(a.Value)
		}
	}
	return plain
}

func relativeRef(href string) bool {
	return !strings.Contains(href, "://") && !strings.HasPrefix(href, "data:") && !strings.HasPrefix(href, "//")
}
