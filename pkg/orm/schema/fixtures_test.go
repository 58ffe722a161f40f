package schema

import (
	"time"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// Shape is a closed union over the fixtures
type Shape interface {
	entity.Entity
	isShape()
}

type Foo struct {
	entity.Base
	Name    string              `nexus:"name,required"`
	Count   int                 `nexus:"count"`
	Tags    []string            `nexus:"tags"`
	Score   *float64
	Created time.Time           `nexus:"dateCreated"`
	Species entity.OntologyTerm `nexus:"species"`
	Bar     *Bar                `nexus:"bar"`
	Parts   []Part              `nexus:"parts"`
	Shape   Shape               `nexus:"shape"`
	Any     entity.Entity       `nexus:"any,types=Bar"`
	Extra   interface{}         `nexus:"extra"`
	Skipped string              `nexus:"-"`
	hidden  string
}

func (*Foo) isShape() {}

type Bar struct {
	entity.Base
	Label string `nexus:"label,required"`
}

func (*Bar) isShape() {}

type Part struct {
	Title string `nexus:"title,required"`
	Size  *int   `nexus:"size"`
}

var (
	fooDecl = Declaration{Tag: "sim/foo", Version: "v0.1.0", Types: []string{"sim:Foo"}}
	barDecl = Declaration{Tag: "sim/bar", Version: "v0.1.0", Types: []string{"sim:Bar", "prov:Entity"}}
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	reg.MustRegister(MustBuild(&Foo{}, fooDecl))
	reg.MustRegister(MustBuild(&Bar{}, barDecl))
	return reg
}
