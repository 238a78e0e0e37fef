package retrieval

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/kgraphrag/kgraphrag/model"
)

// hyperlinkedTypes are the entity types whose names get wrapped as Markdown
// links when an entity_link_base_url is configured: person and
// organization, in either language.
var hyperlinkedTypes = map[string]bool{
	"person":       true,
	"personne":     true,
	"organisation": true,
	"organization": true,
}

// FormatContext renders the retrieved context as the four labelled sections
// the prompt assembler embeds, each emitted as JSON.
func (e *Engine) FormatContext(c *model.RetrievedContext) string {
	links := e.entityLinks(c.Entities)

	type entityRow struct {
		Entity      string `json:"entity"`
		Type        string `json:"type"`
		Description string `json:"description"`
		Community   string `json:"community,omitempty"`
		Rank        int    `json:"rank"`
	}
	entityRows := make([]entityRow, 0, len(c.Entities))
	for _, entity := range c.Entities {
		rank := 0
		if entity.Rank != nil {
			rank = *entity.Rank
		}
		entityRows = append(entityRows, entityRow{
			Entity:      linkName(entity.Name, links),
			Type:        string(entity.Type),
			Description: entity.Description,
			Community:   entity.Community,
			Rank:        rank,
		})
	}

	type relationRow struct {
		Source      string  `json:"source"`
		Target      string  `json:"target"`
		Description string  `json:"description"`
		Keywords    string  `json:"keywords"`
		Weight      float64 `json:"weight"`
	}
	relationRows := make([]relationRow, 0, len(c.Relationships))
	for _, edge := range c.Relationships {
		relationRows = append(relationRows, relationRow{
			Source:      linkName(edge.Source, links),
			Target:      linkName(edge.Target, links),
			Description: edge.Description,
			Keywords:    strings.Join(edge.Keywords, ", "),
			Weight:      edge.Weight,
		})
	}

	type pathRow struct {
		Entities    []string `json:"entities"`
		Strength    float64  `json:"strength"`
		Description string   `json:"description"`
	}
	pathRows := make([]pathRow, 0, len(c.MultiHopPaths))
	for _, p := range c.MultiHopPaths {
		linked := make([]string, len(p.Entities))
		for i, entity := range p.Entities {
			linked[i] = linkName(entity, links)
		}
		pathRows = append(pathRows, pathRow{Entities: linked, Strength: p.PathStrength, Description: p.Description})
	}

	type chunkRow struct {
		ID       string `json:"id"`
		Content  string `json:"content"`
		FilePath string `json:"file_path,omitempty"`
	}
	chunkRows := make([]chunkRow, 0, len(c.DocumentChunks))
	for _, chunk := range c.DocumentChunks {
		chunkRows = append(chunkRows, chunkRow{ID: chunk.ID, Content: chunk.Content, FilePath: chunk.FilePath})
	}

	var b strings.Builder
	writeSection(&b, "Entities(KG)", entityRows)
	writeSection(&b, "Relationships(KG)", relationRows)
	writeSection(&b, "Multi-hop Paths", pathRows)
	writeSection(&b, "Document Chunks(DC)", chunkRows)
	return b.String()
}

// entityLinks maps hyperlinkable entity names to their Markdown link form.
func (e *Engine) entityLinks(entities []*model.Entity) map[string]string {
	if e.opts.EntityLinkBaseURL == "" {
		return nil
	}
	base := strings.TrimSuffix(e.opts.EntityLinkBaseURL, "/")
	links := map[string]string{}
	for _, entity := range entities {
		if hyperlinkedTypes[strings.ToLower(string(entity.Type))] {
			links[entity.Name] = "[" + entity.Name + "](" + base + "/" + url.PathEscape(entity.Name) + ")"
		}
	}
	return links
}

func linkName(name string, links map[string]string) string {
	if linked, ok := links[name]; ok {
		return linked
	}
	return name
}

func writeSection(b *strings.Builder, label string, rows any) {
	encoded, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		encoded = []byte("[]")
	}
	b.WriteString("-----")
	b.WriteString(label)
	b.WriteString("-----\n```json\n")
	b.Write(encoded)
	b.WriteString("\n```\n")
}
