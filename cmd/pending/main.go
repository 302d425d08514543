package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/yungbote/docrag-backend/internal/data/db"
	"github.com/yungbote/docrag-backend/internal/data/repos"
	"github.com/yungbote/docrag-backend/internal/ingestion/coordinator"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/envutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

// pending reports ingestion work that did not settle: batch markers left
// behind by partially written batches, and documents whose blob move is
// still outstanding. With -check-index each marker is expanded with where its
// chunks actually landed. It only reads.
func main() {
	var source string
	var limit int
	var checkIndex bool
	flag.StringVar(&source, "source", "", "only report markers for this source uri")
	flag.IntVar(&limit, "limit", 100, "max documents with a pending move to list")
	flag.BoolVar(&checkIndex, "check-index", false, "look up each pending batch's chunks in the vector index and relational store")
	flag.Parse()

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log, db.ResolvePostgresConfigFromEnv())
	if err != nil {
		fmt.Printf("init postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	rs := repos.New(pg.DB(), log)
	dbc := dbctx.Context{Ctx: context.Background()}

	markers, err := rs.BatchMarkers.ListPending(dbc, source)
	if err != nil {
		fmt.Printf("list batch markers: %v\n", err)
		os.Exit(1)
	}
	moves, err := rs.Documents.ListMovePending(dbc, limit)
	if err != nil {
		fmt.Printf("list pending moves: %v\n", err)
		os.Exit(1)
	}

	out := map[string]any{
		"batch_markers": markers,
		"move_pending":  moves,
	}
	if checkIndex && len(markers) > 0 {
		qcfg, err := qdrant.ResolveConfigFromEnv()
		if err != nil {
			fmt.Printf("qdrant config: %v\n", err)
			os.Exit(1)
		}
		index, err := qdrant.NewVectorIndex(log, qcfg)
		if err != nil {
			fmt.Printf("init qdrant: %v\n", err)
			os.Exit(1)
		}
		statuses := make([]coordinator.MarkerStatus, 0, len(markers))
		for _, m := range markers {
			st, err := coordinator.InspectMarker(dbc.Ctx, index, rs.Chunks, m)
			if err != nil {
				fmt.Printf("inspect marker %s: %v\n", m.ID, err)
				os.Exit(1)
			}
			statuses = append(statuses, st)
		}
		out["batch_markers"] = statuses
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Printf("encode: %v\n", err)
		os.Exit(1)
	}
}
