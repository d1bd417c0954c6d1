package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"feedsync/db"
	"feedsync/models"
	"feedsync/pager"

	"github.com/cqroot/prompt"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a title into a document id, "Día de Córdoba!" => "dia-de-cordoba"
func slugify(title string) string {
	return strings.Trim(nonSlug.ReplaceAllString(pager.Fold(title), "-"), "-")
}

// buildDocuments assigns ids and server timestamps to raw records. Records
// without an id get a slug of their title, or a random id when untitled.
func buildDocuments(records []map[string]any, now time.Time) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(records))
	seen := make(map[string]int)
	for i, record := range records {
		if record == nil {
			return nil, fmt.Errorf("record %d is not an object", i)
		}
		if _, ok := record["id"]; !ok {
			id := ""
			if title, ok := record["title"].(string); ok {
				id = slugify(title)
			}
			if id == "" {
				id = uuid.New().String()
			}
			// Same title twice
			if n := seen[id]; n > 0 {
				seen[id] = n + 1
				id = fmt.Sprintf("%s-%d", id, n+1)
			} else {
				seen[id] = 1
			}
			record["id"] = id
		}
		if _, ok := record[models.DefaultTimestampField]; !ok {
			record[models.DefaultTimestampField] = map[string]any{
				"seconds":     float64(now.Unix()),
				"nanoseconds": float64(now.Nanosecond()),
			}
		}
		doc, err := models.DocumentFromMap(record)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import documents into a collection of the local store",
		ArgsUsage: "<file.json>",
		Description: `Reads a JSON array of objects and writes them to a collection of the
local document store. Live subscribers of the collection receive the new
snapshot immediately.

Objects without an "id" get one derived from their title. Objects without a
"createdAt" field are stamped with the import time.

Prompts for the collection when --collection is not given.`,
		Flags: []cli.Flag{
			databaseFlag(),
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection to write to",
			},
			&cli.BoolFlag{
				Name:  "replace",
				Value: true,
				Usage: "Replace the whole collection instead of upserting",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return fmt.Errorf("expected exactly one input file")
			}
			data, err := os.ReadFile(ctx.Args().First())
			if err != nil {
				return err
			}
			var records []map[string]any
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("input must be a JSON array of objects: %w", err)
			}

			collection := ctx.String("collection")
			if collection == "" {
				collection, err = prompt.New().Ask("Collection:").Input("news")
				if err != nil {
					return err
				}
			}

			docs, err := buildDocuments(records, time.Now())
			if err != nil {
				return err
			}

			store, err := db.Open(ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			if ctx.Bool("replace") {
				err = store.ReplaceCollection(ctx.Context, collection, docs)
			} else {
				for _, doc := range docs {
					if err = store.Put(ctx.Context, collection, doc); err != nil {
						break
					}
				}
			}
			if err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"collection": collection,
				"count":      len(docs),
			}).Info("Imported documents")
			return nil
		},
	}
}
