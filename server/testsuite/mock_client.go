package testsuite

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/stomptest"
)

const (
	TestLogin    = "testlogin"
	TestPasscode = "testpasscode"
)

// Timeout bounds every wait in MockClient.
var Timeout = time.Second

// MockClient is a raw client peer for interacting with a stomp/server.Server.  It
// sends frames exactly as given and records every frame the server sends except
// heart-beats.
type MockClient struct {
	*stomp.Peer
	*stomptest.Recorder
}

// NewMockClient starts peer and records its frames.
func NewMockClient(peer *stomp.Peer, wg *sync.WaitGroup) *MockClient {
	return &MockClient{
		Peer:     peer,
		Recorder: stomptest.Record(peer, true, wg),
	}
}

// Connect sends a CONNECT frame without heart-beats and verifies the session
// value received.  An empty sessionID accepts any session.
func (client *MockClient) Connect(sessionID string) error {
	connect := frames.Connect("localhost", "1.2", TestLogin, TestPasscode, stomp.HeartbeatConfig{})
	if err := client.Send(connect); err != nil {
		return err
	}
	frame, err := client.Expect(stomp.CommandConnected)
	if err != nil {
		return err
	}
	if id := frame.Header(stomp.HeaderSession); sessionID != "" && id != sessionID {
		return fmt.Errorf("expected %v session; got %v", sessionID, id)
	}
	return nil
}

// Frame sends a single frame.
func (client *MockClient) Frame(frame stomp.Frame) error {
	return client.Send(frame)
}

// Expect returns the next frame and fails if it is not a cmd frame.
func (client *MockClient) Expect(cmd stomp.Command) (stomp.Frame, error) {
	frame, ok := client.Next(Timeout)
	if !ok {
		return stomp.Frame{}, fmt.Errorf("timeout waiting for %v", cmd)
	} else if frame.Command != cmd {
		return frame, fmt.Errorf("expected %v frame; got %v: %v", cmd, frame.Command, frame.Header(stomp.HeaderMessage))
	}
	return frame, nil
}

// ExpectReceipt returns an error unless the next frame is a RECEIPT for id.
func (client *MockClient) ExpectReceipt(id string) error {
	frame, err := client.Expect(stomp.CommandReceipt)
	if err != nil {
		return err
	} else if got := frame.Header(stomp.HeaderReceiptID); got != id {
		return fmt.Errorf("expected receipt-id %v; got %v", id, got)
	}
	return nil
}

// ExpectClosed returns an error unless the server closes the connection.
func (client *MockClient) ExpectClosed() error {
	if !client.WaitClosed(Timeout) {
		return errors.New("timeout waiting for close")
	}
	return nil
}

// WithReceipt returns a copy of frame requesting receipt id.
func WithReceipt(frame stomp.Frame, id string) stomp.Frame {
	frame = frame.Clone()
	frame.Headers.Set(stomp.HeaderReceipt, id)
	return frame
}
