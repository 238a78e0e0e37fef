// Package ids implements the content-hash identifier formats shared by the
// vector stores and the derived graph nodes.
package ids

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

func hash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Entity returns the vector-store ID for an entity: "ent-<md5(name)>".
func Entity(name string) string {
	return "ent-" + hash(name)
}

// Relation returns the vector-store ID for a relation: "rel-<md5(src+tgt)>".
func Relation(src, tgt string) string {
	return "rel-" + hash(src+tgt)
}

// Association returns the node ID for an association:
// "assoc-<md5("::".join(sorted(entities)))>".
func Association(entities []string) string {
	sorted := sortedCopy(entities)
	return "assoc-" + hash(strings.Join(sorted, "::"))
}

// MultiHop returns the node ID for a multi-hop path:
// "mh-<md5("->".join(entities))>". The path is ordered, not sorted.
func MultiHop(entities []string) string {
	return "mh-" + hash(strings.Join(entities, "->"))
}

// Chunk returns the chunk ID: "chunk-<md5(content)>".
func Chunk(content string) string {
	return "chunk-" + hash(content)
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
