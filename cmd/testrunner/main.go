package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/lawnchairsociety/logsocket/test"
)

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "logsocketd address")
	server := flag.String("server", test.LogServer, "Log stream to subscribe to (must exist under the daemon's log root)")
	logFile := flag.String("logfile", "", "Daemon-side path of the stream's current file, enables live append tests")
	verbose := flag.Bool("v", false, "Verbose output - show detailed actions for each test")
	flag.Parse()

	test.Verbose = *verbose
	test.LogServer = *server
	test.LogFile = *logFile

	fmt.Printf("Running integration tests against %s (stream %q)\n", *serverAddr, *server)
	fmt.Println("Make sure logsocketd is running!")
	if *verbose {
		fmt.Println("Verbose mode enabled - showing detailed test actions")
	}
	fmt.Println()

	results := test.RunAllTests(*serverAddr)
	test.PrintResults(results)

	// Exit with error code if any tests failed
	for _, result := range results {
		if !result.Passed {
			os.Exit(1)
		}
	}
}
