package content

import (
	"bytes"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// dateMillis matches JavaScript's Date.toISOString, which the site parses.
const dateMillis = "2006-01-02T15:04:05.000Z"

type frontMatter struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Author      string   `yaml:"author,omitempty"`
	Date        string   `yaml:"date"`
	Tags        []string `yaml:"tags,omitempty"`
	Slug        string   `yaml:"slug"`
}

// renderPost serializes a post as YAML front-matter followed by the markdown body.
func renderPost(fm frontMatter, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("---\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func postDate(now time.Time) string {
	return now.UTC().Format(dateMillis)
}
