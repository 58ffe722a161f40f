package core

import (
	"fmt"

	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// Version is the schema version the types are published under
const Version = "v0.1.0"

// Declarations lists the store identity of every type in this package
var Declarations = []struct {
	Sample interface{}
	schema.Declaration
}{
	{&Person{}, schema.Declaration{Tag: "core/person", Version: Version, Types: []string{"nsg:Person"}}},
	{&Organization{}, schema.Declaration{Tag: "core/organization", Version: Version, Types: []string{"nsg:Organization"}}},
	{&Subject{}, schema.Declaration{Tag: "core/subject", Version: Version, Types: []string{"nsg:Subject"}}},
	{&Dataset{}, schema.Declaration{Tag: "core/dataset", Version: Version, Types: []string{"nsg:Dataset", "prov:Entity"}}},
	{&Activity{}, schema.Declaration{Tag: "core/activity", Version: Version, Types: []string{"nsg:Activity", "prov:Activity"}}},
}

// Bootstrap registers the types of this package with reg. It must run
// before any handle is resolved.
func Bootstrap(reg *schema.Registry) error {
	for _, d := range Declarations {
		s, err := schema.Build(d.Sample, d.Declaration)
		if err != nil {
			return fmt.Errorf("core: %w", err)
		}
		if err := reg.Register(s); err != nil {
			return fmt.Errorf("core: %w", err)
		}
	}
	return nil
}
