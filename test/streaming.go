package test

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/logsocket/internal/logclient"
	"github.com/lawnchairsociety/logsocket/internal/protocol"
	"github.com/lawnchairsociety/logsocket/internal/testclient"
	"github.com/lawnchairsociety/logsocket/internal/view"
)

const waitTimeout = 3 * time.Second

// =============================================================================
// Group 2: Socket protocol
// =============================================================================

func dialAndSubscribe(serverAddr, server string, opts ...testclient.Option) (*testclient.TestClient, error) {
	client, _, err := testclient.Dial(testclient.SocketURL(serverAddr), opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Subscribe(server); err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return client, nil
}

// TestSubscribeReceivesRTS checks that a subscription starts with RTS
func TestSubscribeReceivesRTS(serverAddr string) TestResult {
	const testName = "Subscribe Receives RTS"

	logAction(testName, fmt.Sprintf("Subscribing to '%s'...", LogServer))
	client, err := dialAndSubscribe(serverAddr, LogServer)
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	found := client.WaitForMessage(protocol.RTS, waitTimeout)
	logResult(testName, found, fmt.Sprintf("frames: %v", client.GetMessages()))
	if !found {
		return fail(testName, "No RTS received")
	}
	if first := client.GetMessages()[0]; first != protocol.RTS {
		return fail(testName, "First frame was %q, want RTS", first)
	}
	return pass(testName, "RTS received")
}

// TestNoRowsWithoutCTS checks that the daemon waits for CTS
func TestNoRowsWithoutCTS(serverAddr string) TestResult {
	const testName = "No Rows Without CTS"

	client, err := dialAndSubscribe(serverAddr, LogServer)
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	client.WaitForMessage(protocol.RTS, waitTimeout)
	logAction(testName, "Withholding CTS for 500ms")
	time.Sleep(500 * time.Millisecond)

	messages := client.GetMessages()
	logResult(testName, len(messages) == 1, fmt.Sprintf("%d frames", len(messages)))
	if len(messages) != 1 {
		return fail(testName, "Expected only RTS, got %v", messages)
	}
	return pass(testName, "Daemon held rows until CTS")
}

// TestRowsAfterCTS checks that CTS releases a batch and is followed by a new RTS
func TestRowsAfterCTS(serverAddr string) TestResult {
	const testName = "Rows After CTS"

	client, err := dialAndSubscribe(serverAddr, LogServer)
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	client.WaitForMessage(protocol.RTS, waitTimeout)
	logAction(testName, "Sending CTS")
	client.SendCTS()

	if !client.WaitForCount(protocol.RTS, 2, waitTimeout) {
		return fail(testName, "No RTS after the batch, frames: %v", client.GetMessages())
	}
	rows := client.Rows()
	logResult(testName, true, fmt.Sprintf("%d rows in first batch", len(rows)))
	return pass(testName, fmt.Sprintf("Batch of %d rows, then RTS", len(rows)))
}

func expectPolicyClose(testName, server string, serverAddr string) TestResult {
	client, err := dialAndSubscribe(serverAddr, server)
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()

	closed, err := client.WaitForClose(waitTimeout)
	if !closed {
		return fail(testName, "Connection stayed open")
	}
	code := testclient.CloseCode(err)
	logResult(testName, code == websocket.ClosePolicyViolation, fmt.Sprintf("close code %d", code))
	if code != websocket.ClosePolicyViolation {
		return fail(testName, "Expected close code %d, got %d (%v)", websocket.ClosePolicyViolation, code, err)
	}
	return pass(testName, "Closed with policy violation")
}

// TestMissingLogRejected subscribes to a server without a log
func TestMissingLogRejected(serverAddr string) TestResult {
	return expectPolicyClose("Missing Log Rejected", uniqueLine("no-such-server"), serverAddr)
}

// TestInvalidServerRejected subscribes with a traversal attempt
func TestInvalidServerRejected(serverAddr string) TestResult {
	return expectPolicyClose("Invalid Server Rejected", "../etc", serverAddr)
}

// =============================================================================
// Group 3: Live tail
// =============================================================================

// TestLiveAppend appends to the log and expects the line to be streamed
func TestLiveAppend(serverAddr string) TestResult {
	const testName = "Live Append"
	if LogFile == "" {
		return skip(testName, "set -logfile to enable")
	}

	client, err := dialAndSubscribe(serverAddr, LogServer, testclient.WithAutoCTS())
	if err != nil {
		return fail(testName, "Connection failed: %v", err)
	}
	defer client.Close()
	client.WaitForCount(protocol.RTS, 2, waitTimeout)

	line := uniqueLine("live-append")
	logAction(testName, "Appending "+line)
	if err := appendToLog(line); err != nil {
		return fail(testName, "Append failed: %v", err)
	}

	found := client.WaitForMessage(line, waitTimeout)
	logResult(testName, found, "line streamed")
	if !found {
		return fail(testName, "Appended line not streamed")
	}
	return pass(testName, "Appended line streamed")
}

// TestLogClientStream drives the real client into a container
func TestLogClientStream(serverAddr string) TestResult {
	const testName = "LogClient Stream"

	container := view.NewContainer(LogServer)
	client, err := logclient.New(logclient.Config{Host: serverAddr}, container)
	if err != nil {
		return fail(testName, "New failed: %v", err)
	}

	flow := make(chan struct{}, 16)
	client.Subscribe(func(ev logclient.Event) {
		if ev.Type == logclient.EventFlowControl {
			select {
			case flow <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return fail(testName, "Connect failed: %v", err)
	}
	defer client.Disconnect()

	// Two RTS/CTS rounds guarantee the first batch was rendered.
	for i := 0; i < 2; i++ {
		select {
		case <-flow:
		case <-time.After(waitTimeout):
			return fail(testName, "No flow control round %d", i+1)
		}
	}

	logResult(testName, true, fmt.Sprintf("%d rows, %d scrolls", container.Len(), container.Scrolls()))
	if container.Status() != view.StatusOpen {
		return fail(testName, "Container status %v, want open", container.Status())
	}
	return pass(testName, fmt.Sprintf("Rendered %d rows", container.Len()))
}

// TestLogClientStartStop toggles the client and checks labels and state
func TestLogClientStartStop(serverAddr string) TestResult {
	const testName = "LogClient Start/Stop"

	container := view.NewContainer(LogServer)
	client, err := logclient.New(logclient.Config{Host: serverAddr}, container)
	if err != nil {
		return fail(testName, "New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return fail(testName, "Connect failed: %v", err)
	}

	logAction(testName, "Stopping")
	if err := client.StartStop(ctx); err != nil {
		return fail(testName, "Stop failed: %v", err)
	}
	if client.State() != logclient.StateClosed || client.Label() != logclient.LabelRestart {
		return fail(testName, "After stop: state %v label %q", client.State(), client.Label())
	}

	logAction(testName, "Restarting")
	if err := client.StartStop(ctx); err != nil {
		return fail(testName, "Restart failed: %v", err)
	}
	defer client.Disconnect()
	if client.State() != logclient.StateOpen || client.Label() != logclient.LabelStop {
		return fail(testName, "After restart: state %v label %q", client.State(), client.Label())
	}
	return pass(testName, "Stop and restart toggled")
}
