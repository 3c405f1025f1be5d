// Command panwhat-analyze runs a one-shot analysis of an exported WhatsApp
// transcript with local profiles only and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/analysis"
	"github.com/raulgabino/panwhat-sub000/internal/config"
	"github.com/raulgabino/panwhat-sub000/internal/export"
	"github.com/raulgabino/panwhat-sub000/internal/transcript"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("panwhat-analyze: ")
	if err := run(os.Args[1:], os.Stdin, os.Stdout, time.Now()); err != nil {
		log.Fatal(err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer, wallNow time.Time) error {
	fs := flag.NewFlagSet("panwhat-analyze", flag.ContinueOnError)
	in := fs.String("in", "-", "transcript file, - for stdin")
	csvDir := fs.String("csv", "", "also write clients.csv, products.csv and orders.csv into this directory")
	bakery := fs.String("bakery", config.DefaultBakeryName, "sender name the bakery uses in the chat")
	tuningPath := fs.String("tuning", "", "optional tuning YAML")
	workers := fs.Int("workers", 8, "clients analyzed concurrently")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var text []byte
	var err error
	if *in == "-" {
		text, err = io.ReadAll(stdin)
	} else {
		text, err = os.ReadFile(*in)
	}
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	tuning, err := analysis.LoadTuning(*tuningPath)
	if err != nil {
		return err
	}
	analyzer, err := analysis.New(tuning, analysis.Options{BakeryName: *bakery, Workers: *workers})
	if err != nil {
		return err
	}
	result, err := analyzer.Analyze(context.Background(), string(text), transcript.WallClock(wallNow))
	if err != nil {
		return err
	}

	if *csvDir != "" {
		paths, err := export.WriteCSVFiles(*csvDir, result)
		if err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		for _, p := range paths {
			log.Printf("wrote %s", p)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
