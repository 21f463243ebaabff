package followup

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyYAML []byte

// ErrInvalidVocabulary is returned when a vocabulary document fails validation.
var ErrInvalidVocabulary = errors.New("invalid vocabulary")

// VisitType describes one kind of scheduled follow-up visit.
type VisitType struct {
	Name string `yaml:"name" json:"name"`
	// CreateFlag names the registration field that says whether the visit was
	// actually scheduled. Empty means the visit is always scheduled.
	CreateFlag     string `yaml:"create_flag,omitempty" json:"create_flag,omitempty"`
	CompletionFlag string `yaml:"completion_flag,omitempty" json:"completion_flag,omitempty"`
}

// CaseFields names the computed fields on completion events that carry
// case facts used by the quality metrics.
type CaseFields struct {
	Parity              string `yaml:"parity" json:"parity"`
	FirstMilestoneDate  string `yaml:"first_milestone_date" json:"first_milestone_date"`
	SecondMilestoneDate string `yaml:"second_milestone_date" json:"second_milestone_date"`
	DerivedBirthDate    string `yaml:"derived_birth_date" json:"derived_birth_date"`
}

type vocabularyDoc struct {
	VisitTypes         []VisitType       `yaml:"visit_types"`
	LabelSynonyms      map[string]string `yaml:"label_synonyms"`
	RegistrationLabels []string          `yaml:"registration_labels"`
	CaseFields         CaseFields        `yaml:"case_fields"`
}

// Vocabulary is the immutable domain vocabulary the engine is built with:
// visit types, their flags, label synonyms and registration form labels.
type Vocabulary struct {
	types        []VisitType
	byName       map[string]VisitType // keyed by exact visit type name
	byLabel      map[string]string    // normalized label -> visit type name
	registration map[string]bool      // normalized registration labels
	caseFields   CaseFields
	digest       string
}

// DefaultVocabulary returns the embedded maternal/newborn vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := ParseVocabulary(defaultVocabularyYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded vocabulary: %v", err))
	}
	return v
}

// LoadVocabulary reads a YAML vocabulary file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary parses and validates a YAML vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var doc vocabularyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	return NewVocabulary(doc.VisitTypes, doc.LabelSynonyms, doc.RegistrationLabels, doc.CaseFields)
}

// NewVocabulary validates and indexes a vocabulary. Visit type names must be
// unique and every synonym must point at a declared type. A type without a
// completion flag is recognized but never tracked.
func NewVocabulary(types []VisitType, synonyms map[string]string, registrationLabels []string, fields CaseFields) (*Vocabulary, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: no visit types", ErrInvalidVocabulary)
	}

	v := &Vocabulary{
		types:        make([]VisitType, 0, len(types)),
		byName:       make(map[string]VisitType, len(types)),
		byLabel:      make(map[string]string, len(types)+len(synonyms)),
		registration: make(map[string]bool, len(registrationLabels)),
		caseFields:   fields,
	}

	for _, t := range types {
		t.Name = strings.TrimSpace(t.Name)
		t.CreateFlag = strings.TrimSpace(t.CreateFlag)
		t.CompletionFlag = strings.TrimSpace(t.CompletionFlag)
		if t.Name == "" {
			return nil, fmt.Errorf("%w: visit type without a name", ErrInvalidVocabulary)
		}
		if _, dup := v.byName[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate visit type %q", ErrInvalidVocabulary, t.Name)
		}
		v.types = append(v.types, t)
		v.byName[t.Name] = t
		v.byLabel[normalizeLabel(t.Name)] = t.Name
	}

	for label, target := range synonyms {
		target = strings.TrimSpace(target)
		if _, ok := v.byName[target]; !ok {
			return nil, fmt.Errorf("%w: synonym %q points at unknown visit type %q", ErrInvalidVocabulary, label, target)
		}
		key := normalizeLabel(label)
		if key == "" {
			continue
		}
		v.byLabel[key] = target
	}

	for _, label := range registrationLabels {
		if key := normalizeLabel(label); key != "" {
			v.registration[key] = true
		}
	}

	v.digest = v.computeDigest()
	return v, nil
}

func (v *Vocabulary) computeDigest() string {
	registration := make([]string, 0, len(v.registration))
	for l := range v.registration {
		registration = append(registration, l)
	}
	sort.Strings(registration)

	data, _ := json.Marshal(struct {
		Types        []VisitType       `json:"types"`
		Labels       map[string]string `json:"labels"`
		Registration []string          `json:"registration"`
		Fields       CaseFields        `json:"fields"`
	}{v.types, v.byLabel, registration, v.caseFields})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digest identifies the vocabulary content; equal vocabularies share a digest.
func (v *Vocabulary) Digest() string { return v.digest }

// normalizeLabel trims, collapses inner whitespace and case-folds a form label.
func normalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// VisitTypes returns the declared visit types in declaration order.
func (v *Vocabulary) VisitTypes() []VisitType {
	out := make([]VisitType, len(v.types))
	copy(out, v.types)
	return out
}

// CaseFields returns the computed-field keys used for quality metrics.
func (v *Vocabulary) CaseFields() CaseFields { return v.caseFields }

// ResolveLabel maps a free-text form label to its canonical visit type.
func (v *Vocabulary) ResolveLabel(label string) (string, bool) {
	key := normalizeLabel(label)
	if key == "" {
		return "", false
	}
	name, ok := v.byLabel[key]
	return name, ok
}

// IsRegistrationLabel reports whether label names the intake form.
func (v *Vocabulary) IsRegistrationLabel(label string) bool {
	return v.registration[normalizeLabel(label)]
}

// CompletionFlag returns the completion flag of a visit type, or "" when the
// type is unknown.
func (v *Vocabulary) CompletionFlag(visitType string) string {
	return v.byName[visitType].CompletionFlag
}

// CreateFlag returns the create flag of a visit type, or "" when the type is
// unknown or always scheduled.
func (v *Vocabulary) CreateFlag(visitType string) string {
	return v.byName[visitType].CreateFlag
}

// TypesSharingFlag lists every visit type whose completion flag is flag, in
// declaration order.
func (v *Vocabulary) TypesSharingFlag(flag string) []string {
	if flag == "" {
		return nil
	}
	var names []string
	for _, t := range v.types {
		if t.CompletionFlag == flag {
			names = append(names, t.Name)
		}
	}
	return names
}

// canonicalType resolves a visit type as written on a registration block.
// Registration blocks normally carry the exact type name, but they go through
// the same label normalization so trailing spaces and case drift still match.
func (v *Vocabulary) canonicalType(raw string) (string, bool) {
	if t, ok := v.byName[strings.TrimSpace(raw)]; ok {
		return t.Name, true
	}
	return v.ResolveLabel(raw)
}
