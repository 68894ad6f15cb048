// Package test holds integration scenarios run by cmd/testrunner against a
// live logsocketd.
package test

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Verbose controls whether detailed logging is shown during tests
var Verbose = false

// LogServer is the stream the scenarios subscribe to. It must exist under
// the daemon's log root.
var LogServer = "testrunner"

// LogFile, when set, is the daemon-side path of LogServer's current file.
// Scenarios that need live appends are skipped without it.
var LogFile = ""

// TestResult represents the result of a test
type TestResult struct {
	Name    string
	Passed  bool
	Skipped bool
	Message string
}

var uniqueCounter uint64

// uniqueLine returns a log line that no earlier scenario has written.
func uniqueLine(base string) string {
	n := atomic.AddUint64(&uniqueCounter, 1)
	return fmt.Sprintf("%s-%d-%d", base, os.Getpid(), n)
}

// logAction logs a test action when verbose mode is enabled
func logAction(testName, action string) {
	if Verbose {
		fmt.Printf("  [%s] %s\n", testName, action)
	}
}

// logResult logs an expected vs actual result when verbose mode is enabled
func logResult(testName string, success bool, detail string) {
	if Verbose {
		status := "OK"
		if !success {
			status = "FAIL"
		}
		fmt.Printf("  [%s] %s: %s\n", testName, status, detail)
	}
}

func pass(name, msg string) TestResult {
	return TestResult{Name: name, Passed: true, Message: msg}
}

func fail(name, format string, args ...any) TestResult {
	return TestResult{Name: name, Passed: false, Message: fmt.Sprintf(format, args...)}
}

func skip(name, msg string) TestResult {
	return TestResult{Name: name, Passed: true, Skipped: true, Message: msg}
}

// appendToLog writes line plus newline to LogFile.
func appendToLog(line string) error {
	f, err := os.OpenFile(LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// RunAllTests runs every scenario against the daemon at serverAddr.
func RunAllTests(serverAddr string) []TestResult {
	results := make([]TestResult, 0)

	// Group 1: HTTP endpoints
	results = append(results, TestHealth(serverAddr))
	results = append(results, TestFileDownload(serverAddr))
	results = append(results, TestFileDownloadInvalidName(serverAddr))
	results = append(results, TestLogPage(serverAddr))

	// Group 2: Socket protocol
	results = append(results, TestSubscribeReceivesRTS(serverAddr))
	results = append(results, TestNoRowsWithoutCTS(serverAddr))
	results = append(results, TestRowsAfterCTS(serverAddr))
	results = append(results, TestMissingLogRejected(serverAddr))
	results = append(results, TestInvalidServerRejected(serverAddr))

	// Group 3: Live tail
	results = append(results, TestLiveAppend(serverAddr))
	results = append(results, TestLogClientStream(serverAddr))
	results = append(results, TestLogClientStartStop(serverAddr))

	return results
}

// PrintResults prints a summary of test results
func PrintResults(results []TestResult) {
	passed := 0
	failed := 0
	skipped := 0

	fmt.Println("============================================================")
	fmt.Println("Integration Test Results")
	fmt.Println("============================================================")
	fmt.Println()

	for _, r := range results {
		status := "PASS"
		switch {
		case r.Skipped:
			status = "SKIP"
			skipped++
		case !r.Passed:
			status = "FAIL"
			failed++
		default:
			passed++
		}
		fmt.Printf("[%s] %s: %s\n", status, r.Name, r.Message)
	}

	fmt.Println()
	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Total: %d | Passed: %d | Failed: %d | Skipped: %d\n", len(results), passed, failed, skipped)
	fmt.Println("------------------------------------------------------------")
}
