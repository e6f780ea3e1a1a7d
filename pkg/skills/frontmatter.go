package skills

import (
	"bytes"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// Frontmatter is a document split into its metadata block and body
type Frontmatter struct {
	// Metadata holds every key of the YAML block; empty when there is none
	Metadata map[string]any
	// Body is the text after the closing delimiter, or the whole document
	Body string
	// Err is set when a block was present but could not be parsed
	Err error
}

// ParseFrontmatter splits raw into metadata and body. It never fails: a
// block that is unterminated or not a YAML mapping leaves the metadata empty
// and the whole text as body.
func ParseFrontmatter(raw string) Frontmatter {
	block, body, found := splitFrontmatter(raw)
	if !found {
		return Frontmatter{Metadata: map[string]any{}, Body: raw}
	}

	metadata, err := parseMetadataBlock(block)
	if err != nil {
		return Frontmatter{Metadata: map[string]any{}, Body: raw, Err: err}
	}

	return Frontmatter{Metadata: metadata, Body: body}
}

// splitFrontmatter returns the metadata block and body when raw opens with a
// delimiter line that is closed later on
func splitFrontmatter(raw string) (string, string, bool) {
	content := strings.TrimPrefix(raw, "\ufeff")
	lines := strings.Split(content, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != frontmatterDelimiter {
		return "", "", false
	}

	for i := 1; i < len(lines); i++ {
		// only an unindented delimiter closes; indented dashes belong to YAML scalars
		if strings.TrimRight(lines[i], " \t\r") == frontmatterDelimiter {
			block := strings.Join(lines[1:i], "\n")
			body := strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\r\n")
			return block, body, true
		}
	}

	return "", "", false
}

// parseMetadataBlock parses the YAML between the delimiters into a generic map
func parseMetadataBlock(block string) (map[string]any, error) {
	indentedSeparator := false
	for _, line := range strings.Split(block, "\n") {
		if !isSeparatorLine(line) {
			continue
		}
		if line[0] == '-' {
			return nil, errors.New("unexpected separator inside frontmatter")
		}
		indentedSeparator = true
	}
	if indentedSeparator {
		return parseYAMLBlock(block)
	}

	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	source := frontmatterDelimiter + "\n" + block + "\n" + frontmatterDelimiter + "\n"
	if err := md.Convert([]byte(source), &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse frontmatter")
	}

	metadata, err := meta.TryGet(pctx)
	if err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter yaml")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	return metadata, nil
}

// parseYAMLBlock decodes blocks the meta extension cannot delimit: it ends
// the block at any dash-only line, indented or not
func parseYAMLBlock(block string) (map[string]any, error) {
	metadata := map[string]any{}
	if err := yaml.Unmarshal([]byte(block), &metadata); err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter yaml")
	}
	return metadata, nil
}

// isSeparatorLine reports whether the meta extension would close the block at
// line: any non-blank line made only of dashes
func isSeparatorLine(line string) bool {
	line = strings.TrimSpace(line)
	return line != "" && strings.Trim(line, "-") == ""
}

// decodeMetadata extracts the recognized fields from generic frontmatter.
// Unknown keys are ignored; scalars are lifted into lists.
func decodeMetadata(raw map[string]any) (Metadata, error) {
	var md Metadata
	if len(raw) == 0 {
		return md, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to create metadata decoder")
	}

	if err := decoder.Decode(raw); err != nil {
		return Metadata{}, errors.Wrap(err, "failed to decode metadata")
	}

	md.Name = strings.TrimSpace(md.Name)
	md.Description = strings.TrimSpace(md.Description)
	md.Triggers = normalizeTriggers(md.Triggers)

	return md, nil
}

// normalizeTriggers trims keywords, drops empty ones and duplicates.
// An empty result is nil, meaning always active.
func normalizeTriggers(triggers []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(triggers))
	for _, trigger := range triggers {
		trigger = strings.TrimSpace(trigger)
		if trigger == "" {
			continue
		}
		if _, dup := seen[trigger]; dup {
			continue
		}
		seen[trigger] = struct{}{}
		out = append(out, trigger)
	}
	return out
}
