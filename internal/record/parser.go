// Package record parses the LLM's delimited extraction output into a tagged
// sum type. The
// source's duck-typed "first field is the tag" discipline becomes a
// Record{Kind, ...} struct the parser fully populates or drops.
package record

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kgraphrag/kgraphrag/internal/tokenize"
)

// Delimiters of the record grammar.
const (
	TupleDelimiter      = "<|>"
	RecordDelimiter     = "##"
	CompletionDelimiter = "<|COMPLETE|>"
)

// Kind tags which variant a Record holds.
type Kind string

const (
	KindEntity          Kind = "entity"
	KindRelationship    Kind = "relationship"
	KindMultiHop        Kind = "multi_hop"
	KindLatentRelation  Kind = "latent_relation"
	KindAssociation     Kind = "Association"
	KindContentKeywords Kind = "content_keywords"
)

// minFields is the per-tag field-count floor a record must clear before it
// is accepted (the tag field itself counts as field 0).
var minFields = map[Kind]int{
	KindEntity:          6,
	KindRelationship:    5,
	KindLatentRelation:  6,
	KindMultiHop:        5,
	KindAssociation:     7,
	KindContentKeywords: 2,
}

// Record is the sum type over every tag the grammar defines. Only the
// fields relevant to Kind are populated; the rest stay zero.
type Record struct {
	Kind Kind

	// entity
	EntityName           string
	EntityType           string
	Description          string
	AdditionalProperties string
	Community            string

	// relationship / latent_relation
	SourceEntity string
	TargetEntity string
	Keywords     string
	Strength     float64

	// multi_hop
	PathEntities []string
	PathStrength float64

	// Association
	AssocEntities       []string
	AssocStrength       float64
	AssocDescription    string
	AssocGeneralization string

	// content_keywords
	ContentKeywords string
}

var floatRe = regexp.MustCompile(`-?\d+(\.\d+)?`)

// coerceFloat parses the first float literal out of s, defaulting to 1.0
// for strength/weight fields with no usable number.
func coerceFloat(s string) float64 {
	m := floatRe.FindString(s)
	if m == "" {
		return 1.0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 1.0
	}
	return f
}

// cleanField trims quotes/whitespace and normalizes the field.
func cleanField(s string) string {
	return tokenize.Normalize(s)
}

// Parse splits an LLM completion on RecordDelimiter, then each record's
// fields on TupleDelimiter, producing a Record per well-formed line.
// Unparseable records are silently dropped with a debug log;
// malformed input never fails the whole chunk.
func Parse(log *slog.Logger, completion string) []Record {
	completion = strings.TrimSuffix(strings.TrimSpace(completion), CompletionDelimiter)

	var out []Record
	for _, raw := range strings.Split(completion, RecordDelimiter) {
		raw = strings.TrimSpace(raw)
		raw = strings.TrimPrefix(raw, "(")
		raw = strings.TrimSuffix(raw, ")")
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		fields := strings.Split(raw, TupleDelimiter)
		for i := range fields {
			fields[i] = cleanField(fields[i])
		}
		if len(fields) == 0 || fields[0] == "" {
			continue
		}

		kind := Kind(strings.Trim(fields[0], `"'`))
		floor, known := minFields[kind]
		if !known {
			debugDrop(log, "unknown record tag", raw)
			continue
		}
		if len(fields) < floor {
			debugDrop(log, "too few fields for "+string(kind), raw)
			continue
		}

		rec, ok := parseFields(kind, fields)
		if !ok {
			debugDrop(log, "malformed "+string(kind), raw)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func parseFields(kind Kind, f []string) (Record, bool) {
	switch kind {
	case KindEntity:
		// "entity" <|> name <|> type <|> description <|> additional_properties <|> community
		// Only name/type/description are mandatory; source_id is attached by
		// the caller from chunk linkage.
		if f[1] == "" {
			return Record{}, false
		}
		rec := Record{
			Kind:        kind,
			EntityName:  tokenize.StandardizeEntityName(f[1]),
			EntityType:  strings.ToLower(f[2]),
			Description: f[3],
		}
		if len(f) > 4 {
			rec.AdditionalProperties = f[4]
		}
		if len(f) > 5 {
			rec.Community = f[5]
		}
		return rec, true

	case KindRelationship:
		// "relationship" <|> src <|> tgt <|> description <|> keywords <|> strength?
		if f[1] == "" || f[2] == "" || f[1] == f[2] {
			return Record{}, false
		}
		strength := 1.0
		if len(f) > 5 {
			strength = coerceFloat(f[5])
		}
		return Record{
			Kind:         kind,
			SourceEntity: tokenize.StandardizeEntityName(f[1]),
			TargetEntity: tokenize.StandardizeEntityName(f[2]),
			Description:  f[3],
			Keywords:     f[4],
			Strength:     strength,
		}, true

	case KindLatentRelation:
		// "latent_relation" <|> src <|> tgt <|> description <|> keywords <|> strength
		if f[1] == "" || f[2] == "" || f[1] == f[2] {
			return Record{}, false
		}
		return Record{
			Kind:         kind,
			SourceEntity: tokenize.StandardizeEntityName(f[1]),
			TargetEntity: tokenize.StandardizeEntityName(f[2]),
			Description:  f[3],
			Keywords:     f[4],
			Strength:     coerceFloat(f[5]),
		}, true

	case KindMultiHop:
		// "multi_hop" <|> e1##e2##e3... is not how paths nest under RecordDelimiter,
		// so entities are tuple-delimited too: e1 <|> e2 <|> ... <|> description <|> strength
		if len(f) < 5 {
			return Record{}, false
		}
		entities := make([]string, 0, len(f)-2)
		for _, e := range f[1 : len(f)-2] {
			if e != "" {
				entities = append(entities, tokenize.StandardizeEntityName(e))
			}
		}
		if len(entities) < 3 {
			return Record{}, false
		}
		return Record{
			Kind:         kind,
			PathEntities: entities,
			Description:  f[len(f)-2],
			PathStrength: coerceFloat(f[len(f)-1]),
		}, true

	case KindAssociation:
		// "Association" <|> e1 <|> e2 <|> e3[...] <|> strength <|> description <|> generalization
		if len(f) < 7 {
			return Record{}, false
		}
		entities := make([]string, 0, len(f)-3)
		for _, e := range f[1 : len(f)-3] {
			if e != "" {
				entities = append(entities, tokenize.StandardizeEntityName(e))
			}
		}
		if len(entities) < 3 {
			return Record{}, false
		}
		return Record{
			Kind:                kind,
			AssocEntities:       entities,
			AssocStrength:       coerceFloat(f[len(f)-3]),
			AssocDescription:    f[len(f)-2],
			AssocGeneralization: f[len(f)-1],
		}, true

	case KindContentKeywords:
		// "content_keywords" <|> comma,separated,keywords
		if f[1] == "" {
			return Record{}, false
		}
		return Record{Kind: kind, ContentKeywords: f[1]}, true
	}
	return Record{}, false
}

func debugDrop(log *slog.Logger, reason, raw string) {
	if log == nil {
		return
	}
	log.Debug("record: dropped unparseable record", "reason", reason, "raw", raw)
}
