package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openbrain/entitymanagement/internal/blob/fs"
	"github.com/openbrain/entitymanagement/internal/blob/s3"
	"github.com/openbrain/entitymanagement/internal/cli/ui"
	"github.com/openbrain/entitymanagement/pkg/orm/crud"
	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

// NewAttachCommand creates the attach command
func NewAttachCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <id> <file>",
		Short: "Upload a file as the attachment of a resource",
		Long: `Upload a local file to a published resource. The media type is taken
from the file extension and the resource moves to its next revision.`,
		Args: cobra.ExactArgs(2),
		RunE: run(g, func(ctx context.Context, a *app, args []string) error {
			e, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out, dist, err := crud.AttachFile(ctx, a.store, e, args[1])
			if err != nil {
				return err
			}
			ui.WriteSuccess(a.errOut, fmt.Sprintf("attached %s to %s (rev %d)",
				filepath.Base(args[1]), out.EntityBase().ID(), out.EntityBase().Rev()), a.noColor)
			return a.print(distributionRow(dist))
		}),
	}
}

// NewDownloadCommand creates the download command
func NewDownloadCommand(g *globalFlags) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download the distributions of a resource",
		Long: `Download every distribution recorded on a resource into a local
directory or an S3 location (s3://bucket/prefix). Content with a
recorded SHA-256 digest is verified and removed again on mismatch.`,
		Args: cobra.ExactArgs(1),
		RunE: run(g, func(ctx context.Context, a *app, args []string) error {
			e, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			dists, err := crud.Distributions(ctx, e)
			if err != nil {
				return err
			}
			sink, err := a.sink(ctx, to)
			if err != nil {
				return err
			}

			rows := make([]map[string]interface{}, 0, len(dists))
			for _, d := range dists {
				var total int64
				if d.ContentSize != nil {
					total = d.ContentSize.Value
				}
				p := ui.NewProgress(a.errOut, filepath.Base(d.OriginalFileName), total, a.noColor)
				location, err := a.store.Download(ctx, d, &progressSink{Sink: sink, progress: p})
				if err != nil {
					return err
				}
				p.Done(location)
				row := distributionRow(d)
				row["location"] = location
				rows = append(rows, row)
			}
			return a.print(rows)
		}),
	}

	cmd.Flags().StringVar(&to, "to", ".", "target directory or s3://bucket/prefix")
	return cmd
}

// sink opens the download target named by to
func (a *app) sink(ctx context.Context, to string) (crud.Sink, error) {
	if !strings.HasPrefix(to, "s3://") {
		return fs.New(to)
	}
	bucket, prefix, err := s3.ParseURL(to)
	if err != nil {
		return nil, err
	}
	s3cfg := a.cfg.Download.S3
	return s3.New(ctx, s3.ConfigFromEnv(s3.Config{
		Region:          s3cfg.Region,
		Endpoint:        s3cfg.Endpoint,
		PathStyle:       s3cfg.PathStyle,
		Bucket:          bucket,
		Prefix:          prefix,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}))
}

// progressSink reports the bytes written through a sink
type progressSink struct {
	crud.Sink
	progress *ui.Progress
}

func (p *progressSink) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	return p.Sink.Put(ctx, key, p.progress.Reader(r), contentType)
}

func distributionRow(d entity.DataDownload) map[string]interface{} {
	row := map[string]interface{}{
		"url":       d.URL(),
		"file":      d.OriginalFileName,
		"mediaType": d.EncodingFormat,
	}
	if d.ContentSize != nil {
		row["size"] = d.ContentSize.Value
	}
	if d.Digest != nil {
		row["digest"] = d.Digest.Algorithm + ":" + d.Digest.Value
	}
	return row
}

// createFromFile publishes the document in path as a new resource of sch
func (a *app) createFromFile(ctx context.Context, sch *schema.EntitySchema, path string) (entity.Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if strings.EqualFold(filepath.Ext(path), ".json") || strings.HasSuffix(path, ".jsonld") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// JSON round trip so YAML timestamps and integer types read like the
	// store's own documents
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%s must hold a single object: %w", path, err)
	}
	delete(doc, "@id")

	e := sch.New()
	if err := a.store.Codec().DecodeEntity(doc, e); err != nil {
		return nil, err
	}
	return crud.Publish(ctx, a.store, e)
}
