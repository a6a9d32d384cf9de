package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nexuslite/nexuslite/cache"
	"github.com/nexuslite/nexuslite/collection"
	"github.com/nexuslite/nexuslite/internal/benchbackend/hashindex"
	"github.com/nexuslite/nexuslite/internal/benchbackend/nexusadapter"
	"github.com/nexuslite/nexuslite/internal/storagebench"
	"github.com/nexuslite/nexuslite/internal/storagebench/benchmark"
	"github.com/nexuslite/nexuslite/nxlog"
	"github.com/nexuslite/nexuslite/wasp"
)

func main() {
	quick := flag.Bool("quick", false, "Run quick benchmarks (shorter duration)")
	duration := flag.Duration("duration", 60*time.Second, "Duration for each benchmark")
	concurrency := flag.Int("concurrency", 8, "Number of concurrent workers")
	engineFlag := flag.String("engine", "compare", "Engine to benchmark: nexuslite, hashindex, or compare")
	dataDir := flag.String("data-dir", "", "Directory to store benchmark data (default: a temp dir)")
	flag.Parse()

	fmt.Println("NexusLite Benchmark Suite")
	fmt.Println("=========================")
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Mode: %s\n\n", *engineFlag)

	dir := *dataDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "nexuslite-bench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	var configs []benchmark.Config
	if *quick {
		configs = benchmark.QuickWorkloads()
	} else {
		configs = benchmark.StandardWorkloads()
	}
	for i := range configs {
		configs[i].Duration = *duration
		configs[i].Concurrency = *concurrency
	}

	suite := benchmark.NewComparisonSuite()
	suite.SetWorkloads(configs)

	engines := map[string]storagebench.StorageEngine{}

	if *engineFlag == "nexuslite" || *engineFlag == "compare" {
		nexusEngine, cleanup, err := newNexusEngine(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start nexuslite engine: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		engines["nexuslite"] = nexusEngine
	}

	if *engineFlag == "hashindex" || *engineFlag == "compare" {
		hiCfg := hashindex.DefaultConfig(dir + "/hashindex")
		hi, err := hashindex.New(hiCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start hashindex: %v\n", err)
			os.Exit(1)
		}
		defer hi.Close()
		engines["hashindex"] = hi
	}

	results := suite.RunComparison(engines)
	suite.PrintComparisonTable(results)
}

func newNexusEngine(dir string) (storagebench.StorageEngine, func(), error) {
	log, err := nxlog.Open(dir + "/nexuslite")
	if err != nil {
		return nil, nil, err
	}
	cfg := wasp.DefaultConfig()
	engine, err := wasp.Open(dir+"/nexuslite.wasp", cfg, log)
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	coll := collection.Open("bench", engine, cache.DefaultConfig())
	cleanup := func() {
		engine.Close()
		log.Close()
	}
	return nexusadapter.New(coll), cleanup, nil
}
