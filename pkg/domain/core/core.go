// Package core declares the shared entity types of the knowledge graph:
// agents, subjects, datasets and the activities linking them.
package core

import (
	"time"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// Agent is anything that can be credited for a contribution. Person and
// Organization implement it.
type Agent interface {
	entity.Entity
	isAgent()
}

// Person is an individual agent
type Person struct {
	entity.Base
	GivenName   string        `nexus:"givenName,required"`
	FamilyName  string        `nexus:"familyName,required"`
	Email       string        `nexus:"email"`
	Affiliation *Organization `nexus:"affiliation"`
}

func (*Person) isAgent() {}

// Organization is an institution or lab
type Organization struct {
	entity.Base
	Name    string `nexus:"name,required"`
	Address string `nexus:"address"`
}

func (*Organization) isAgent() {}

// Contribution credits an agent with a role
type Contribution struct {
	Agent Agent               `nexus:"agent,required"`
	Role  entity.OntologyTerm `nexus:"hadRole"`
}

// Age is a quantitative value with a unit and the reference period
type Age struct {
	Value  float64 `nexus:"value,required"`
	Unit   string  `nexus:"unitCode,required"`
	Period string  `nexus:"period"`
}

// Subject is the organism data was recorded from
type Subject struct {
	entity.Base
	Name    string              `nexus:"name,required"`
	Species entity.OntologyTerm `nexus:"species,required"`
	Strain  entity.OntologyTerm `nexus:"strain"`
	Sex     entity.OntologyTerm `nexus:"sex"`
	Age     *Age                `nexus:"age"`
}

// Dataset is a published collection of data files
type Dataset struct {
	entity.Base
	Name           string                `nexus:"name,required"`
	Description    string                `nexus:"description"`
	DateCreated    time.Time             `nexus:"dateCreated"`
	Keywords       []string              `nexus:"keywords"`
	License        entity.OntologyTerm   `nexus:"license"`
	Subject        *Subject              `nexus:"subject"`
	Contribution   []Contribution        `nexus:"contribution"`
	Distribution   []entity.DataDownload `nexus:"distribution"`
	WasDerivedFrom []entity.Entity       `nexus:"prov:wasDerivedFrom"`
	Version        *int                  `nexus:"version"`
}

// Activity is a process that used and generated entities
type Activity struct {
	entity.Base
	Name         string          `nexus:"name,required"`
	Used         []entity.Entity `nexus:"used"`
	Generated    []entity.Entity `nexus:"generated"`
	StartedAt    time.Time       `nexus:"startedAtTime"`
	EndedAt      time.Time       `nexus:"endedAtTime"`
	WasStartedBy Agent           `nexus:"wasStartedBy,types=Person"`
}
