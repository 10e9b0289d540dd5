package model

// EntityType is a tag from the closed entity taxonomy.
type EntityType string

const (
	Works        EntityType = "works"
	Authors      EntityType = "authors"
	Sources      EntityType = "sources"
	Institutions EntityType = "institutions"
	Publishers   EntityType = "publishers"
	Funders      EntityType = "funders"
	Topics       EntityType = "topics"
	Concepts     EntityType = "concepts"
	Keywords     EntityType = "keywords"
)

// entityPrefixes maps the single-letter ID prefix to its entity type.
var entityPrefixes = map[byte]EntityType{
	'W': Works,
	'A': Authors,
	'S': Sources,
	'I': Institutions,
	'P': Publishers,
	'F': Funders,
	'T': Topics,
	'C': Concepts,
	'K': Keywords,
}

// IsEntityPrefix reports whether b starts an entity ID.
func IsEntityPrefix(b byte) bool {
	_, ok := entityPrefixes[b]
	return ok
}

// EntityTypeFromID infers the entity type from an ID such as "W123".
// It returns "" when the prefix is unknown.
func EntityTypeFromID(id string) EntityType {
	if id == "" {
		return ""
	}
	return entityPrefixes[id[0]]
}

// Valid reports whether t belongs to the taxonomy.
func (t EntityType) Valid() bool {
	for _, known := range entityPrefixes {
		if known == t {
			return true
		}
	}
	return false
}

// RelationType tags an edge. The set below covers what the importer
// produces today; other values are stored as-is.
type RelationType string

const (
	Authorship       RelationType = "AUTHORSHIP"
	Affiliation      RelationType = "AFFILIATION"
	Publication      RelationType = "PUBLICATION"
	Reference        RelationType = "REFERENCE"
	Topic            RelationType = "TOPIC"
	Concept          RelationType = "CONCEPT"
	FundedBy         RelationType = "FUNDED_BY"
	HostOrganization RelationType = "HOST_ORGANIZATION"
	Lineage          RelationType = "LINEAGE"
	RelatedTo        RelationType = "RELATED_TO"
)
