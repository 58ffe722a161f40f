package entity

import "reflect"

// OntologyTerm is a flat reference to a term of a controlled vocabulary.
// It is decoded directly from @id and label, never lazily.
type OntologyTerm struct {
	ID    string
	Label string
}

// IsZero reports whether the term is unset
func (t OntologyTerm) IsZero() bool {
	return t.ID == "" && t.Label == ""
}

// Term builds an ontology term
func Term(id, label string) OntologyTerm {
	return OntologyTerm{ID: id, Label: label}
}

// Digest is the checksum the store computed for an attachment
type Digest struct {
	Algorithm string `nexus:"algorithm"`
	Value     string `nexus:"value"`
}

// ContentSize is the size of an attachment
type ContentSize struct {
	Unit  string `nexus:"unit"`
	Value int64  `nexus:"value"`
}

// DataDownload describes a file attached to an entity or stored at an
// external location.
type DataDownload struct {
	ContentURL       string       `nexus:"downloadURL"`
	AccessURL        string       `nexus:"accessURL"`
	EncodingFormat   string       `nexus:"mediaType"`
	OriginalFileName string       `nexus:"originalFileName"`
	ContentSize      *ContentSize `nexus:"contentSize"`
	Digest           *Digest      `nexus:"digest"`
	StorageType      string       `nexus:"storageType"`
}

// URL returns the location the content can be fetched from
func (d DataDownload) URL() string {
	if d.ContentURL != "" {
		return d.ContentURL
	}
	return d.AccessURL
}

var (
	// OntologyTermType is the reflect type of OntologyTerm
	OntologyTermType = reflect.TypeOf(OntologyTerm{})

	// InterfaceType is the reflect type of the Entity interface
	InterfaceType = reflect.TypeOf((*Entity)(nil)).Elem()

	baseType = reflect.TypeOf(Base{})
)

// IsBase reports whether t is the embedded Base type
func IsBase(t reflect.Type) bool {
	return t == baseType
}
