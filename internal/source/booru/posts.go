package booru

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/BadgerOps/mediagrab/internal/source"
)

// postsXML is the dapi search response.
type postsXML struct {
	XMLName xml.Name  `xml:"posts"`
	Count   int       `xml:"count,attr"`
	Posts   []postXML `xml:"post"`
}

type postXML struct {
	ID      string `xml:"id,attr"`
	FileURL string `xml:"file_url,attr"`
	Width   int    `xml:"width,attr"`
	Height  int    `xml:"height,attr"`
	Tags    string `xml:"tags,attr"`
}

// ParsePosts decodes a dapi XML response into posts. Entries without an id or
// file URL are skipped. An empty body is an empty result.
func ParsePosts(data []byte) ([]source.Post, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc postsXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing posts XML: %w", err)
	}

	posts := make([]source.Post, 0, len(doc.Posts))
	for _, p := range doc.Posts {
		if p.ID == "" || p.FileURL == "" {
			continue
		}
		posts = append(posts, source.Post{
			ID:       p.ID,
			AssetURL: p.FileURL,
			Width:    p.Width,
			Height:   p.Height,
			Tags:     p.Tags,
			Source:   Name,
		})
	}
	return posts, nil
}
