package skills

import (
	"context"
	"sort"
	"strings"

	"github.com/jingkaihe/skillet/pkg/logger"
)

// RootDocuments holds the documents found below one source root
type RootDocuments struct {
	Root      SourceRoot
	Documents []Document
}

// Build turns located documents into a catalogue. roots must be in priority
// order: when two documents resolve to the same name, the one from the
// earlier root wins, and within a root the one with the smaller path wins.
// Documents with an empty body are dropped.
func Build(ctx context.Context, roots []RootDocuments) *Catalogue {
	log := logger.G(ctx)

	var out []*Skill
	seen := make(map[string]string)

	for _, root := range roots {
		docs := append([]Document(nil), root.Documents...)
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })

		for _, doc := range docs {
			skill := buildSkill(ctx, doc)
			if skill == nil {
				continue
			}
			skill.source = root.Root.Key()

			if winner, exists := seen[skill.Name]; exists {
				log.WithField("skill", skill.Name).
					WithField("path", doc.Path).
					WithField("kept", winner).
					Debug("skill name already claimed, skipping document")
				continue
			}
			seen[skill.Name] = doc.Path
			out = append(out, skill)
		}
	}

	return newCatalogue(out, nil)
}

// buildSkill parses one document, returning nil when it has no usable body
func buildSkill(ctx context.Context, doc Document) *Skill {
	log := logger.G(ctx).WithField("path", doc.Path)

	fm := ParseFrontmatter(doc.Raw)
	if fm.Err != nil {
		log.WithError(fm.Err).Debug("malformed frontmatter, treating document as plain text")
	}

	md, err := decodeMetadata(fm.Metadata)
	if err != nil {
		log.WithError(err).Debug("unrecognized metadata shape, ignoring metadata")
		md = Metadata{}
	}

	if strings.TrimSpace(fm.Body) == "" {
		log.Debug("skill document has no content, skipping")
		return nil
	}

	name := md.Name
	if name == "" {
		name = doc.DefaultName
	}
	if name == "" {
		log.Debug("skill document has no usable name, skipping")
		return nil
	}

	return &Skill{
		Name:        name,
		Description: md.Description,
		Triggers:    md.Triggers,
		Content:     fm.Body,
		Path:        doc.Path,
	}
}
