// Command kgraphrag is a thin driver exercising the engine end to end:
// ingest a document from a file, then answer queries against the graph.
//
// Usage:
//
//	kgraphrag ingest <file>
//	kgraphrag query [-mode mix] [-top-k 60] [-stream] <question>
//	kgraphrag deepsearch <question>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kgraphrag/kgraphrag"
	"github.com/kgraphrag/kgraphrag/internal/config"
	"github.com/kgraphrag/kgraphrag/internal/obs"
	"github.com/kgraphrag/kgraphrag/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: kgraphrag <ingest|query|deepsearch> ...")
	}

	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger := obs.NewLogger(os.Stdout, obs.FormatPretty, slog.LevelInfo)

	engine, err := kgraphrag.New(cfg, kgraphrag.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := context.Background()
	switch args[0] {
	case "ingest":
		return ingest(ctx, engine, args[1:])
	case "query":
		return query(ctx, engine, args[1:])
	case "deepsearch":
		return deepsearch(ctx, engine, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func ingest(ctx context.Context, engine *kgraphrag.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kgraphrag ingest <file>")
	}
	doc, err := model.NewDocumentFromFile(args[0])
	if err != nil {
		return err
	}
	chunks, err := engine.InsertDocument(ctx, doc)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %q: %d chunks\n", doc.Title, chunks)
	return nil
}

func query(ctx context.Context, engine *kgraphrag.Engine, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	mode := fs.String("mode", string(model.ModeMix), "retrieval mode: naive|local|global|hybrid|mix|bypass|analyste")
	topK := fs.Int("top-k", 60, "number of candidates per retrieval stage")
	page := fs.Int("page", 1, "result page")
	stream := fs.Bool("stream", false, "stream the response")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: kgraphrag query [flags] <question>")
	}

	param := model.DefaultQueryParam()
	param.Mode = model.Mode(*mode)
	param.TopK = *topK
	param.Page = *page

	if *stream {
		out, err := engine.QueryStream(ctx, fs.Arg(0), param)
		if err != nil {
			return err
		}
		for chunk := range out {
			fmt.Print(chunk)
		}
		fmt.Println()
		return nil
	}

	answer, err := engine.Query(ctx, fs.Arg(0), param)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func deepsearch(ctx context.Context, engine *kgraphrag.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kgraphrag deepsearch <question>")
	}
	param := model.DefaultQueryParam()
	param.Mode = model.ModeDeepsearch
	path, err := engine.Query(ctx, args[0], param)
	if err != nil {
		return err
	}
	fmt.Println("report written to", path)
	return nil
}
