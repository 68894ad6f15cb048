package test

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lawnchairsociety/logsocket/internal/protocol"
)

// =============================================================================
// Group 1: HTTP endpoints
// =============================================================================

var httpClient = &http.Client{Timeout: 5 * time.Second}

func get(serverAddr, path string) (*http.Response, string, error) {
	resp, err := httpClient.Get("http://" + serverAddr + path)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp, string(body), err
}

// TestHealth checks that the daemon answers /health
func TestHealth(serverAddr string) TestResult {
	const testName = "Health"

	logAction(testName, "GET /health")
	resp, body, err := get(serverAddr, "/health")
	if err != nil {
		return fail(testName, "Request failed: %v", err)
	}
	logResult(testName, resp.StatusCode == http.StatusOK, fmt.Sprintf("status %d body %s", resp.StatusCode, strings.TrimSpace(body)))

	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
		return fail(testName, "Unexpected response %d: %s", resp.StatusCode, body)
	}
	return pass(testName, "Daemon healthy")
}

// TestFileDownload fetches the whole log as text
func TestFileDownload(serverAddr string) TestResult {
	const testName = "File Download"

	path := protocol.FilePathPrefix + LogServer + ".txt"
	logAction(testName, "GET "+path)
	resp, body, err := get(serverAddr, path)
	if err != nil {
		return fail(testName, "Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fail(testName, "Expected 200, got %d (is %q under the log root?)", resp.StatusCode, LogServer)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		return fail(testName, "Expected text/plain, got %q", ct)
	}
	logResult(testName, true, fmt.Sprintf("%d bytes", len(body)))
	return pass(testName, fmt.Sprintf("Downloaded %d bytes", len(body)))
}

// TestFileDownloadInvalidName checks that names outside the alphabet are refused
func TestFileDownloadInvalidName(serverAddr string) TestResult {
	const testName = "File Download Invalid Name"

	resp, _, err := get(serverAddr, protocol.FilePathPrefix+"a..b.txt")
	if err != nil {
		return fail(testName, "Request failed: %v", err)
	}
	logResult(testName, resp.StatusCode == http.StatusBadRequest, fmt.Sprintf("status %d", resp.StatusCode))

	if resp.StatusCode != http.StatusBadRequest {
		return fail(testName, "Expected 400, got %d", resp.StatusCode)
	}
	return pass(testName, "Invalid name refused")
}

// TestLogPage fetches the page hosting the log container
func TestLogPage(serverAddr string) TestResult {
	const testName = "Log Page"

	path := protocol.PagePathPrefix + LogServer + protocol.PagePathSuffix
	logAction(testName, "GET "+path)
	resp, body, err := get(serverAddr, path)
	if err != nil {
		return fail(testName, "Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail(testName, "Expected 200, got %d", resp.StatusCode)
	}

	want := `id="` + LogServer + `"`
	ok := strings.Contains(body, `class="daemon-log"`) && strings.Contains(body, want) &&
		strings.Contains(body, `id="livecontrolplay"`)
	logResult(testName, ok, fmt.Sprintf("%d bytes", len(body)))
	if !ok {
		return fail(testName, "Page lacks the container or control: %s", body)
	}
	return pass(testName, "Page holds container and control")
}
