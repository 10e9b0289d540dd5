// Package edgeid encodes an edge's identity from its (source, target, type)
// triple and decodes it back.
//
// The format is "<source>-<target>-<type>". Source and target are entity
// IDs made of one taxonomy letter followed by digits, so they never contain
// the separator. The type is opaque and may contain it ("CITED-BY" is a
// valid type), which is why Parse anchors on the two leading entity tokens
// and keeps everything after the second separator as the type.
package edgeid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kittclouds/kitgraph/pkg/model"
)

// Separator joins the three components.
const Separator = '-'

var (
	// ErrInvalidEntityID is returned when a source or target does not match
	// the letter+digits grammar.
	ErrInvalidEntityID = errors.New("edgeid: invalid entity id")

	// ErrEmptyType is returned when the relationship type is empty.
	ErrEmptyType = errors.New("edgeid: empty relationship type")

	// ErrMalformed is returned by Parse for strings that are not edge IDs.
	ErrMalformed = errors.New("edgeid: malformed edge id")
)

// Parts is a decoded edge identity.
type Parts struct {
	Source string
	Target string
	Type   model.RelationType
}

// ValidEntityID reports whether id is a taxonomy letter followed by one or
// more ASCII digits.
func ValidEntityID(id string) bool {
	if len(id) < 2 || !model.IsEntityPrefix(id[0]) {
		return false
	}
	for i := 1; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// Generate builds the edge ID for a triple.
func Generate(source, target string, relType model.RelationType) (string, error) {
	if !ValidEntityID(source) {
		return "", fmt.Errorf("%w: source %q", ErrInvalidEntityID, source)
	}
	if !ValidEntityID(target) {
		return "", fmt.Errorf("%w: target %q", ErrInvalidEntityID, target)
	}
	if relType == "" {
		return "", ErrEmptyType
	}

	var b strings.Builder
	b.Grow(len(source) + len(target) + len(relType) + 2)
	b.WriteString(source)
	b.WriteByte(Separator)
	b.WriteString(target)
	b.WriteByte(Separator)
	b.WriteString(string(relType))
	return b.String(), nil
}

// MustGenerate is Generate for inputs known to be valid. It panics otherwise.
func MustGenerate(source, target string, relType model.RelationType) string {
	id, err := Generate(source, target, relType)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse decodes an edge ID produced by Generate.
func Parse(id string) (Parts, error) {
	source, rest, ok := scanEntity(id)
	if !ok {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformed, id)
	}
	target, rest, ok := scanEntity(rest)
	if !ok || rest == "" {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformed, id)
	}
	return Parts{Source: source, Target: target, Type: model.RelationType(rest)}, nil
}

// scanEntity consumes "<letter><digits>-" from the front of s and returns
// the entity token and the remainder after the separator.
func scanEntity(s string) (token, rest string, ok bool) {
	if len(s) < 3 || !model.IsEntityPrefix(s[0]) {
		return "", "", false
	}
	i := 1
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 1 || i >= len(s) || s[i] != Separator {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
