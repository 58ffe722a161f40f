package crud

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"reflect"

	"go.uber.org/zap"

	"github.com/openbrain/entitymanagement/pkg/nexus"
	"github.com/openbrain/entitymanagement/pkg/orm/codec"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/jsonld"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// DistributionKey is the wire key attachment metadata is recorded under
const DistributionKey = "distribution"

var dataDownloadType = reflect.TypeOf(entity.DataDownload{})

// Publish persists e. A value without an identifier is created in the
// collection of its type; a published value is updated at its current
// revision. The result is a new value carrying the identity reported by
// the store; e is not modified.
func Publish[E entity.Entity](ctx context.Context, s *Store, e E) (E, error) {
	var zero E
	if entity.IsNil(e) {
		return zero, entity.ErrNilEntity
	}

	// 1. Make sure every field is present before it is sent back
	if err := entity.Materialize(ctx, e); err != nil {
		return zero, err
	}

	// 2. Validate
	if err := schema.Validate(e); err != nil {
		return zero, err
	}

	// 3. Serialize
	sch, err := s.schemaOf(e)
	if err != nil {
		return zero, err
	}
	doc, err := s.codec.Encode(e)
	if err != nil {
		return zero, err
	}

	// 4. Create or update
	prev := e.EntityBase().Meta()
	var resp map[string]interface{}
	if prev.ID == "" {
		resp, err = s.client.Create(ctx, s.client.DataURL(sch.CollectionPath()), doc)
	} else {
		resp, err = s.client.Update(ctx, prev.ID, prev.Rev, doc)
	}
	if err != nil {
		return zero, ConvertRemoteError(err)
	}

	meta, err := s.nextMeta(prev, resp, sch)
	if err != nil {
		return zero, err
	}

	out, err := withMeta(s, e, meta)
	if err != nil {
		return zero, err
	}

	s.logger.Info("published entity",
		zap.String("type", sch.Name),
		zap.String("id", meta.ID),
		zap.Int("rev", meta.Rev))
	return out, nil
}

// Deprecate tombstones a published entity. The result has Deprecated set
// and the next revision.
func Deprecate[E entity.Entity](ctx context.Context, s *Store, e E) (E, error) {
	var zero E
	if entity.IsNil(e) {
		return zero, entity.ErrNilEntity
	}
	if e.EntityBase().ID() == "" {
		return zero, ErrNotPublished
	}
	// the revision is only known once the handle has been read
	if err := entity.Materialize(ctx, e); err != nil {
		return zero, err
	}
	prev := e.EntityBase().Meta()

	resp, err := s.client.Deprecate(ctx, prev.ID, prev.Rev)
	if err != nil {
		return zero, ConvertRemoteError(err)
	}

	meta, err := s.nextMeta(prev, resp, nil)
	if err != nil {
		return zero, err
	}
	meta.Deprecated = true

	out, err := withMeta(s, e, meta)
	if err != nil {
		return zero, err
	}

	s.logger.Info("deprecated entity", zap.String("id", meta.ID), zap.Int("rev", meta.Rev))
	return out, nil
}

// Attach uploads content as the attachment of a published entity. The
// result carries the next revision and, when the type declares a
// "distribution" field, the new distribution in it.
func Attach[E entity.Entity](ctx context.Context, s *Store, e E, fileName, contentType string, r io.Reader) (E, entity.DataDownload, error) {
	var zero E
	var dist entity.DataDownload
	if entity.IsNil(e) {
		return zero, dist, entity.ErrNilEntity
	}
	if err := entity.Materialize(ctx, e); err != nil {
		return zero, dist, err
	}
	prev := e.EntityBase().Meta()
	if prev.ID == "" {
		return zero, dist, ErrNotPublished
	}

	resp, err := s.client.Attach(ctx, prev.ID, prev.Rev, fileName, contentType, r)
	if err != nil {
		return zero, dist, ConvertRemoteError(err)
	}

	dist, err = s.decodeDistribution(resp[DistributionKey])
	if err != nil {
		return zero, dist, err
	}
	meta, err := s.nextMeta(prev, resp, nil)
	if err != nil {
		return zero, dist, err
	}

	out, err := withMeta(s, e, meta)
	if err != nil {
		return zero, dist, err
	}
	if err := setDistribution(out, dist); err != nil {
		return zero, dist, err
	}

	s.logger.Info("attached file",
		zap.String("id", meta.ID),
		zap.String("file", fileName),
		zap.Int("rev", meta.Rev))
	return out, dist, nil
}

// AttachFile attaches a local file. The media type is derived from the
// file extension.
func AttachFile[E entity.Entity](ctx context.Context, s *Store, e E, path string) (E, entity.DataDownload, error) {
	var zero E
	f, err := os.Open(path)
	if err != nil {
		return zero, entity.DataDownload{}, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Attach(ctx, s, e, filepath.Base(path), contentType, f)
}

// nextMeta merges the identity reported by a write into the previous one.
// A store that omits the revision is assumed to have incremented it.
func (s *Store) nextMeta(prev entity.Meta, resp map[string]interface{}, sch *schema.EntitySchema) (entity.Meta, error) {
	reported, err := codec.MetaFromDocument(resp)
	if err != nil {
		return prev, err
	}

	next := prev
	if reported.ID != "" {
		next.ID = reported.ID
	}
	if next.ID == "" {
		return prev, fmt.Errorf("%w: write response carries no %s", nexus.ErrUnexpectedResponse, jsonld.KeyID)
	}
	next.Rev = prev.Rev + 1
	if reported.Rev > 0 {
		next.Rev = reported.Rev
	}
	if _, ok := resp[jsonld.KeyDeprecated]; ok {
		next.Deprecated = reported.Deprecated
	}
	switch {
	case len(reported.Types) > 0:
		next.Types = reported.Types
	case len(next.Types) == 0 && sch != nil:
		next.Types = sch.Types
	}
	if reported.Self != "" {
		next.Self = reported.Self
	}
	if !reported.CreatedAt.IsZero() {
		next.CreatedAt = reported.CreatedAt
	}
	if !reported.UpdatedAt.IsZero() {
		next.UpdatedAt = reported.UpdatedAt
	}
	if reported.CreatedBy != "" {
		next.CreatedBy = reported.CreatedBy
	}
	if reported.UpdatedBy != "" {
		next.UpdatedBy = reported.UpdatedBy
	}
	return next, nil
}

// withMeta copies e and gives the copy new identity metadata. The copy is
// bound to s so it can be reloaded.
func withMeta[E entity.Entity](s *Store, e E, meta entity.Meta) (E, error) {
	out, err := schema.Copy(e)
	if err != nil {
		return out, err
	}
	b := out.EntityBase()
	b.SetMeta(meta)
	b.Attach(s)
	if b.State() == entity.StateNew {
		b.MarkMaterialized()
	}
	return out, nil
}

func (s *Store) decodeDistribution(raw interface{}) (entity.DataDownload, error) {
	var dist entity.DataDownload
	if raw == nil {
		return dist, fmt.Errorf("%w: attachment response has no %s", nexus.ErrUnexpectedResponse, DistributionKey)
	}
	spec, err := schema.SpecOf(dataDownloadType)
	if err != nil {
		return dist, err
	}
	if list, ok := raw.([]interface{}); ok && len(list) > 0 {
		raw = list[len(list)-1]
	}
	v, err := s.codec.Decode(raw, spec)
	if err != nil {
		return dist, err
	}
	dist, _ = v.(entity.DataDownload)
	return dist, nil
}

// setDistribution records dist in the field declared under DistributionKey,
// appending when the field is a list
func setDistribution(e entity.Entity, dist entity.DataDownload) error {
	fields, err := schema.FieldsOf(reflect.TypeOf(e))
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.Key != DistributionKey {
			continue
		}
		fv := reflect.ValueOf(e).Elem().Field(f.Index)
		switch {
		case f.Type.IsList() && f.Type.Elem.GoType == dataDownloadType:
			fv.Set(reflect.Append(fv, reflect.ValueOf(dist)))
		case f.Type.IsList() && f.Type.Elem.GoType == reflect.PointerTo(dataDownloadType):
			d := dist
			fv.Set(reflect.Append(fv, reflect.ValueOf(&d)))
		case fv.Type() == dataDownloadType:
			fv.Set(reflect.ValueOf(dist))
		case fv.Type() == reflect.PointerTo(dataDownloadType):
			d := dist
			fv.Set(reflect.ValueOf(&d))
		}
		return nil
	}
	return nil
}
