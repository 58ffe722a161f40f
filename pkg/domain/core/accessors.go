package core

import (
	"context"
	"time"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
)

// GetGivenName returns the given name
func (p *Person) GetGivenName(ctx context.Context) (string, error) {
	return entity.Get(ctx, p, func(p *Person) string { return p.GivenName })
}

// GetFamilyName returns the family name
func (p *Person) GetFamilyName(ctx context.Context) (string, error) {
	return entity.Get(ctx, p, func(p *Person) string { return p.FamilyName })
}

// GetAffiliation returns the organization the person belongs to
func (p *Person) GetAffiliation(ctx context.Context) (*Organization, error) {
	return entity.Get(ctx, p, func(p *Person) *Organization { return p.Affiliation })
}

// GetName returns the organization name
func (o *Organization) GetName(ctx context.Context) (string, error) {
	return entity.Get(ctx, o, func(o *Organization) string { return o.Name })
}

// GetName returns the subject name
func (s *Subject) GetName(ctx context.Context) (string, error) {
	return entity.Get(ctx, s, func(s *Subject) string { return s.Name })
}

// GetSpecies returns the species term
func (s *Subject) GetSpecies(ctx context.Context) (entity.OntologyTerm, error) {
	return entity.Get(ctx, s, func(s *Subject) entity.OntologyTerm { return s.Species })
}

// GetAge returns the age, nil when unknown
func (s *Subject) GetAge(ctx context.Context) (*Age, error) {
	return entity.Get(ctx, s, func(s *Subject) *Age { return s.Age })
}

// GetName returns the dataset name
func (d *Dataset) GetName(ctx context.Context) (string, error) {
	return entity.Get(ctx, d, func(d *Dataset) string { return d.Name })
}

// GetDescription returns the dataset description
func (d *Dataset) GetDescription(ctx context.Context) (string, error) {
	return entity.Get(ctx, d, func(d *Dataset) string { return d.Description })
}

// GetDateCreated returns the creation date
func (d *Dataset) GetDateCreated(ctx context.Context) (time.Time, error) {
	return entity.Get(ctx, d, func(d *Dataset) time.Time { return d.DateCreated })
}

// GetSubject returns the subject the data was recorded from. The result is
// an unmaterialized handle.
func (d *Dataset) GetSubject(ctx context.Context) (*Subject, error) {
	return entity.Get(ctx, d, func(d *Dataset) *Subject { return d.Subject })
}

// GetContribution returns the contributions
func (d *Dataset) GetContribution(ctx context.Context) ([]Contribution, error) {
	return entity.Get(ctx, d, func(d *Dataset) []Contribution { return d.Contribution })
}

// GetDistribution returns the attached files
func (d *Dataset) GetDistribution(ctx context.Context) ([]entity.DataDownload, error) {
	return entity.Get(ctx, d, func(d *Dataset) []entity.DataDownload { return d.Distribution })
}

// GetWasDerivedFrom returns the entities the dataset was derived from
func (d *Dataset) GetWasDerivedFrom(ctx context.Context) ([]entity.Entity, error) {
	return entity.Get(ctx, d, func(d *Dataset) []entity.Entity { return d.WasDerivedFrom })
}

// GetName returns the activity name
func (a *Activity) GetName(ctx context.Context) (string, error) {
	return entity.Get(ctx, a, func(a *Activity) string { return a.Name })
}

// GetUsed returns the entities the activity used
func (a *Activity) GetUsed(ctx context.Context) ([]entity.Entity, error) {
	return entity.Get(ctx, a, func(a *Activity) []entity.Entity { return a.Used })
}

// GetGenerated returns the entities the activity generated
func (a *Activity) GetGenerated(ctx context.Context) ([]entity.Entity, error) {
	return entity.Get(ctx, a, func(a *Activity) []entity.Entity { return a.Generated })
}

// GetWasStartedBy returns the agent that started the activity
func (a *Activity) GetWasStartedBy(ctx context.Context) (Agent, error) {
	return entity.Get(ctx, a, func(a *Activity) Agent { return a.WasStartedBy })
}
