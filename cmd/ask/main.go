package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/yungbote/docrag-backend/internal/app"
	"github.com/yungbote/docrag-backend/internal/retrieval"
)

func main() {
	var topK int
	var refsOnly bool
	flag.IntVar(&topK, "k", 0, "number of chunks to retrieve (default RETRIEVAL_TOP_K)")
	flag.BoolVar(&refsOnly, "refs", false, "print references only")
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: ask [-k N] [-refs] <question>")
		os.Exit(2)
	}

	ctx := context.Background()
	a, err := app.New(ctx, app.Options{ServiceName: "docrag-ask"})
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	prompt, refs, err := a.Services.Assembler.BuildPrompt(ctx, query, topK)
	if err != nil {
		a.Log.Error("Failed to build prompt", "error", err)
		a.Close()
		os.Exit(1)
	}
	if !refsOnly {
		fmt.Println(prompt)
		fmt.Println()
	}
	for _, line := range retrieval.Strings(refs) {
		fmt.Println(line)
	}
}
