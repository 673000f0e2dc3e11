// Command benchmark_parser turns `go test -bench` output from the
// engine benchmarks into a markdown report grouped by operation and
// object size.
//
// Usage:
//
//	go test -bench=. -benchmem ./internal/engine | go run scripts/benchmark_parser.go
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BenchmarkResult represents a parsed benchmark result.
type BenchmarkResult struct {
	Name        string
	Operation   string
	ObjectSize  int64
	Iterations  int
	NsPerOp     float64
	BytesPerOp  int64
	AllocsPerOp int64
}

var (
	inputFile = flag.String(
		"input",
		"",
		"Input file with benchmark output (stdin if not specified)",
	)
	outputFile = flag.String("output", "", "Output markdown file (stdout if not specified)")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
)

func main() {
	flag.Parse()

	var scanner *bufio.Scanner
	if *inputFile != "" {
		f, err := os.Open(*inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		scanner = bufio.NewScanner(f)
	} else {
		scanner = bufio.NewScanner(os.Stdin)
	}

	results := parseBenchmarks(scanner)

	if !*quiet {
		fmt.Fprintf(os.Stderr, "Parsed %d benchmark results\n", len(results))
	}

	report := generateMarkdownReport(results)

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(report), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		if !*quiet {
			fmt.Fprintf(os.Stderr, "Report written to %s\n", *outputFile)
		}
	} else {
		fmt.Fprint(os.Stdout, report)
	}
}

func parseBenchmarks(scanner *bufio.Scanner) []BenchmarkResult {
	var results []BenchmarkResult

	// BenchmarkAlloc/size=1024-8    10000    12450 ns/op    4096 B/op    8 allocs/op
	benchmarkRegex := regexp.MustCompile(
		`^Benchmark(\S+?)(?:/size=(\d+))?-\d+\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`,
	)

	for scanner.Scan() {
		line := scanner.Text()
		m := benchmarkRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		r := BenchmarkResult{Name: strings.SplitN(line, " ", 2)[0], Operation: m[1]}
		if m[2] != "" {
			r.ObjectSize, _ = strconv.ParseInt(m[2], 10, 64)
		}
		r.Iterations, _ = strconv.Atoi(m[3])
		r.NsPerOp, _ = strconv.ParseFloat(m[4], 64)
		if m[5] != "" {
			r.BytesPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}
		if m[6] != "" {
			r.AllocsPerOp, _ = strconv.ParseInt(m[6], 10, 64)
		}
		results = append(results, r)
	}
	return results
}

func generateMarkdownReport(results []BenchmarkResult) string {
	var b strings.Builder

	b.WriteString("# Engine Benchmark Report\n\n")
	b.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format("2006-01-02 15:04:05")))

	// Group by operation, ordered by name.
	byOp := make(map[string][]BenchmarkResult)
	var ops []string
	for _, r := range results {
		if _, seen := byOp[r.Operation]; !seen {
			ops = append(ops, r.Operation)
		}
		byOp[r.Operation] = append(byOp[r.Operation], r)
	}
	sort.Strings(ops)

	for _, op := range ops {
		rows := byOp[op]
		sort.Slice(rows, func(i, j int) bool { return rows[i].ObjectSize < rows[j].ObjectSize })

		b.WriteString(fmt.Sprintf("## %s\n\n", op))
		b.WriteString("| Object Size | ns/op | B/op | allocs/op |\n")
		b.WriteString("|------------:|------:|-----:|----------:|\n")
		for _, r := range rows {
			size := "-"
			if r.ObjectSize > 0 {
				size = fmt.Sprintf("%d", r.ObjectSize)
			}
			b.WriteString(fmt.Sprintf("| %s | %.0f | %d | %d |\n",
				size, r.NsPerOp, r.BytesPerOp, r.AllocsPerOp))
		}
		b.WriteString("\n")
	}

	if len(results) == 0 {
		b.WriteString("No benchmark results found in input.\n")
	}
	return b.String()
}
