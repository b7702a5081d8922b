package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/qs3c/research_go_server/internal/pkg/evallog"
)

var (
	logFile  = flag.String("log-file", "universal_research_evals.jsonl", "Path to the eval log")
	showDist = flag.Bool("dist", false, "Print the score distribution")
)

// 离线分析评估日志，不依赖运行中的服务
func main() {
	flag.Parse()

	logger := evallog.NewLogger(*logFile)
	stats, err := logger.Stats()
	if err != nil {
		log.Fatalf("Failed to read eval log: %v", err)
	}

	log.Println(strings.Repeat("=", 50))
	log.Println("Eval Log Summary")
	log.Println(strings.Repeat("=", 50))
	log.Printf("Total runs:      %d", stats.TotalRuns)
	log.Printf("Successful runs: %d", stats.SuccessfulRuns)
	if stats.SuccessfulRuns > 0 {
		log.Printf("Average score:   %.2f", stats.AverageScore)
		log.Printf("Highest score:   %d", stats.MaxScore)
		log.Printf("Lowest score:    %d", stats.MinScore)
	} else {
		log.Println("No successful runs yet")
	}

	if *showDist {
		printDistribution(*logFile)
	}
	log.Println(strings.Repeat("=", 50))
}

// printDistribution 1-10 每档的成功记录数
func printDistribution(path string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Fatalf("Failed to open eval log: %v", err)
	}
	defer f.Close()

	dist := make(map[int]int)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec evallog.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Outcome == evallog.OutcomeSuccess {
			dist[rec.Score]++
		}
	}

	log.Println("Score distribution:")
	for score := 1; score <= 10; score++ {
		if dist[score] == 0 {
			continue
		}
		log.Printf("  %2d: %s (%d)", score, strings.Repeat("#", dist[score]), dist[score])
	}
}
