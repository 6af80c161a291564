package stomp_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/stomptest"
)

// engineTest wires an Engine to the local end of a pipe and records what the
// remote end receives.
type engineTest struct {
	*stomp.Engine
	Remote    *stomp.Peer
	Recv      *stomptest.Recorder
	Scheduler *stomptest.ManualScheduler
	Clock     *stomptest.ManualClock

	Dispatched chan stomp.Frame
	Received   chan stomp.Frame
	Violations chan error
	Exceptions chan error
	Closed     chan stomp.Signal
	Drops      atomic.Int32
	Pings      atomic.Int32
	Writing    atomic.Int32

	// DispatchErr is returned by Dispatch when set.
	DispatchErr error
	// CustomPing installs a Ping handler.
	CustomPing bool

	local *stomp.Peer
}

func newEngineTest(configure ...func(*engineTest)) *engineTest {
	local, remote := stomp.Pipe()
	et := &engineTest{
		Remote:     remote,
		Scheduler:  &stomptest.ManualScheduler{},
		Clock:      stomptest.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Dispatched: make(chan stomp.Frame, 16),
		Received:   make(chan stomp.Frame, 16),
		Violations: make(chan error, 4),
		Exceptions: make(chan error, 4),
		Closed:     make(chan stomp.Signal),
	}
	for _, fn := range configure {
		fn(et)
	}
	handlers := stomp.Handlers{
		FrameReceived: func(f stomp.Frame) {
			et.Received <- f
		},
		Close: func() {
			close(et.Closed)
		},
		Dropped: func() {
			et.Drops.Add(1)
		},
		FrameWriting: func(stomp.Frame) {
			et.Writing.Add(1)
		},
		Exception: func(err error) {
			et.Exceptions <- err
		},
	}
	if et.CustomPing {
		handlers.Ping = func() {
			et.Pings.Add(1)
		}
	}
	et.Engine = stomp.NewEngine(stomp.EngineConfig{
		Peer:      local,
		Scheduler: et.Scheduler,
		Clock:     et.Clock.Now,
		Handlers:  handlers,
		IsHandshake: func(c stomp.Command) bool {
			return c == stomp.CommandConnected || c == stomp.CommandError
		},
		Dispatch: func(f stomp.Frame) error {
			et.Dispatched <- f
			return et.DispatchErr
		},
		Violation: func(err error, f stomp.Frame) {
			et.Violations <- err
		},
	})
	et.local = local
	et.Recv = stomptest.Record(remote, false, nil)
	et.Start(nil)
	return et
}

// Stop closes the engine and waits for both peers.
func (et *engineTest) Stop() {
	et.Close()
	_ = et.local.Shutdown()
	_ = et.Remote.Shutdown()
}

// Connect establishes the engine without heart-beats.
func (et *engineTest) Connect(t *testing.T) {
	err := et.Established("session-1", "1.2", "test", stomp.HeartbeatConfig{}, stomp.HeartbeatConfig{})
	assert.NoError(t, err)
}

func (et *engineTest) WaitClosed(t *testing.T) bool {
	select {
	case <-et.Closed:
		return true
	case <-time.After(time.Second):
		t.Log("timed out waiting for close")
		return false
	}
}

func TestEngine_States(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	local, _ := stomp.Pipe()
	idle := stomp.NewEngine(stomp.EngineConfig{Peer: local})
	chk.Equal(stomp.StateIdle, idle.State())
	chk.Equal("idle", idle.State().String())
	//
	et := newEngineTest()
	defer et.Stop()
	chk.Equal(stomp.StateConnecting, et.State())
	chk.False(et.IsConnected())
	et.Connect(t)
	chk.Equal(stomp.StateConnected, et.State())
	chk.True(et.IsConnected())
	chk.Equal("session-1", et.Session())
	chk.Equal("1.2", et.Version())
	chk.Equal("test", et.Server())
	chk.ErrorIs(et.Established("again", "1.2", "", stomp.HeartbeatConfig{}, stomp.HeartbeatConfig{}), stomp.ErrProtocolViolation)
	//
	chk.True(et.Close())
	chk.False(et.Close())
	chk.Equal(stomp.StateClosed, et.State())
	chk.Equal("", et.Session())
	chk.Equal(int32(0), et.Drops.Load())
	chk.ErrorIs(et.Write(frames.Disconnect()), stomp.ErrClosed)
	_, err := et.Send(frames.Disconnect(), func(stomp.Frame) {})
	chk.ErrorIs(err, stomp.ErrClosed)
	chk.ErrorIs(et.Established("late", "1.2", "", stomp.HeartbeatConfig{}, stomp.HeartbeatConfig{}), stomp.ErrClosed)
	chk.True(et.Recv.WaitClosed(time.Second))
}

func TestEngine_ReceiptCorrelation(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	//
	called := make(chan stomp.Frame, 2)
	receipt, err := et.Send(frames.Subscribe("/queue/a", "auto", "1"), func(f stomp.Frame) {
		called <- f
	})
	chk.NoError(err)
	if !chk.NotNil(receipt) {
		return
	}
	chk.NotEmpty(receipt.ID)
	chk.Equal(1, et.PendingReceipts())
	chk.Equal(stomp.ReceiptPending, receipt.Result())
	//
	f, ok := et.Recv.Next(time.Second)
	chk.True(ok)
	chk.Equal(stomp.CommandSubscribe, f.Command)
	chk.Equal(receipt.ID, f.Header(stomp.HeaderReceipt))
	//
	chk.NoError(et.Remote.Send(frames.Receipt(receipt.ID)))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := receipt.Wait(ctx)
	chk.NoError(err)
	chk.Equal(receipt.ID, got.Header(stomp.HeaderReceiptID))
	chk.Equal(stomp.ReceiptCompleted, receipt.Result())
	chk.Equal(receipt.ID, (<-called).Header(stomp.HeaderReceiptID))
	chk.Equal(0, et.PendingReceipts())
	chk.Len(called, 0)
	//
	// A receipt header already present is kept.
	receipt, err = et.Send(stomp.Frame{
		Command: stomp.CommandBegin,
		Headers: stomp.Headers{{Key: stomp.HeaderTransaction, Value: "tx"}, {Key: stomp.HeaderReceipt, Value: "mine"}},
	}, nil)
	chk.NoError(err)
	chk.Equal("mine", receipt.ID)
	_, err = et.Send(stomp.Frame{
		Command: stomp.CommandCommit,
		Headers: stomp.Headers{{Key: stomp.HeaderReceipt, Value: "mine"}},
	}, nil)
	chk.ErrorIs(err, stomp.ErrProtocolViolation)
	//
	// No callback and no header means no tracking.
	receipt, err = et.Send(frames.Begin("tx2"), nil)
	chk.NoError(err)
	chk.Nil(receipt)
	chk.Equal(1, et.PendingReceipts())
}

func TestEngine_CloseResolvesReceipts(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	//
	var called atomic.Int32
	receipts := make([]*stomp.Receipt, 0, 3)
	for n := 0; n < 3; n++ {
		receipt, err := et.Send(frames.Disconnect(), func(stomp.Frame) {
			called.Add(1)
		})
		chk.NoError(err)
		receipts = append(receipts, receipt)
	}
	chk.True(et.Close())
	for _, receipt := range receipts {
		<-receipt.Done()
		chk.Equal(stomp.ReceiptConnectionClosed, receipt.Result())
		_, err := receipt.Wait(context.Background())
		chk.ErrorIs(err, stomp.ErrClosed)
	}
	chk.Equal(0, et.PendingReceipts())
	chk.Equal(int32(0), called.Load())
	chk.Equal(int32(0), et.Drops.Load())
}

func TestEngine_UnmatchedReceipt(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	chk.NoError(et.Remote.Send(frames.Receipt("nobody-asked")))
	chk.True(et.WaitClosed(t))
	chk.ErrorIs(<-et.Exceptions, stomp.ErrUnmatchedReceipt)
	chk.Equal(int32(0), et.Drops.Load())
}

func TestEngine_Dispatch(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	//
	chk.NoError(et.Remote.Send(stomp.Heartbeat))
	chk.NoError(et.Remote.Send(frames.Message("/topic/a", "m1", "1", []byte("hello"))))
	f := <-et.Dispatched
	chk.Equal(stomp.CommandMessage, f.Command)
	chk.Equal([]byte("hello"), f.Body)
	// Heart-beats are observed but never dispatched.
	chk.True((<-et.Received).IsHeartbeat())
	chk.Equal(stomp.CommandMessage, (<-et.Received).Command)
	chk.Len(et.Dispatched, 0)
}

func TestEngine_DispatchError(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	boom := errors.New("boom")
	et := newEngineTest(func(et *engineTest) {
		et.DispatchErr = boom
	})
	defer et.Stop()
	et.Connect(t)
	chk.NoError(et.Remote.Send(frames.Message("/topic/a", "m1", "1", nil)))
	chk.True(et.WaitClosed(t))
	chk.ErrorIs(<-et.Violations, boom)
	chk.Equal(int32(0), et.Drops.Load())
}

func TestEngine_BeforeHandshake(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	chk.NoError(et.Remote.Send(frames.SendString("/queue/a", "too early")))
	chk.True(et.WaitClosed(t))
	err := <-et.Violations
	chk.ErrorIs(err, stomp.ErrProtocolViolation)
	chk.Contains(err.Error(), "SEND before handshake")
	chk.Len(et.Dispatched, 0)
}

func TestEngine_HandshakeDispatched(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	chk.NoError(et.Remote.Send(frames.Connected("s", "1.2", "srv", stomp.HeartbeatConfig{})))
	f := <-et.Dispatched
	chk.Equal(stomp.CommandConnected, f.Command)
	chk.Equal(stomp.StateConnecting, et.State())
}

func TestEngine_MalformedFrame(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	chk.NoError(et.Remote.Send(stomp.Frame{Command: "HELLO"}))
	chk.True(et.WaitClosed(t))
	chk.ErrorIs(<-et.Exceptions, stomp.ErrFrame)
	chk.ErrorIs(<-et.Violations, stomp.ErrFrame)
	chk.Equal(int32(0), et.Drops.Load())
}

func TestEngine_TransportLost(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	chk.NoError(et.Remote.Shutdown())
	chk.True(et.WaitClosed(t))
	chk.Equal(int32(1), et.Drops.Load())
	chk.Equal(stomp.StateClosed, et.State())
}

func TestEngine_TransportLostMidFrame(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	_, err := et.Remote.W.Write([]byte("SEND\ndestination:/queue/a\n"))
	chk.NoError(err)
	chk.NoError(et.Remote.Shutdown())
	chk.True(et.WaitClosed(t))
	chk.Equal(int32(1), et.Drops.Load())
	err = <-et.Exceptions
	var readErr *stomp.ReadError
	chk.ErrorAs(err, &readErr)
	chk.ErrorIs(err, stomp.ErrFrame)
	chk.Len(et.Violations, 0)
}

func TestEngine_WritingObserver(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	chk.NoError(et.Write(frames.SendString("/queue/a", "one")))
	receipt, err := et.Send(frames.Begin("tx-1"), func(stomp.Frame) {})
	chk.NoError(err)
	chk.NotNil(receipt)
	chk.Equal(int32(2), et.Writing.Load())
	//
	et.Close()
	chk.ErrorIs(et.Write(frames.SendString("/queue/a", "two")), stomp.ErrClosed)
	_, err = et.Send(frames.Begin("tx-2"), func(stomp.Frame) {})
	chk.ErrorIs(err, stomp.ErrClosed)
	chk.Equal(int32(2), et.Writing.Load())
}

func TestEngine_HeartbeatTimeoutAbortsTransport(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	conn, remote := net.Pipe()
	defer remote.Close()
	scheduler := &stomptest.ManualScheduler{}
	clock := stomptest.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var drops atomic.Int32
	closed := make(chan stomp.Signal)
	peer := &stomp.Peer{R: conn, W: conn}
	e := stomp.NewEngine(stomp.EngineConfig{
		Peer:      peer,
		Scheduler: scheduler,
		Clock:     clock.Now,
		Handlers: stomp.Handlers{
			Close: func() {
				close(closed)
			},
			Dropped: func() {
				drops.Add(1)
			},
		},
		Dispatch: func(stomp.Frame) error {
			return nil
		},
	})
	e.Start(nil)
	chk.NoError(e.Established("s", "1.2", "", stomp.HeartbeatConfig{In: time.Second}, stomp.HeartbeatConfig{Out: time.Second}))
	// remote never reads so the writer blocks inside W.Write.
	chk.NoError(e.Write(stomp.Frame{
		Command: stomp.CommandMessage,
		Headers: stomp.Headers{{Key: stomp.HeaderDestination, Value: "/topic/a"}},
		Body:    []byte("never read"),
	}))
	clock.Advance(3 * time.Second)
	chk.Equal(1, scheduler.Fire(time.Second))
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("engine did not close")
	}
	select {
	case <-peer.Signals.AwaitClosed:
	case <-time.After(time.Second):
		t.Fatal("transport not closed after heart-beat timeout")
	}
	chk.Equal(int32(1), drops.Load())
	chk.Equal(stomp.StateClosed, e.State())
}

func TestEngine_SlowConsumerDropped(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	conn, remote := net.Pipe()
	defer remote.Close()
	var drops atomic.Int32
	closed := make(chan stomp.Signal)
	exceptions := make(chan error, 4)
	peer := &stomp.Peer{R: conn, W: conn, Limits: stomp.Limits{MaxQueuedFrames: 2}}
	e := stomp.NewEngine(stomp.EngineConfig{
		Peer:      peer,
		Scheduler: &stomptest.ManualScheduler{},
		Handlers: stomp.Handlers{
			Close: func() {
				close(closed)
			},
			Dropped: func() {
				drops.Add(1)
			},
			Exception: func(err error) {
				exceptions <- err
			},
		},
		Dispatch: func(stomp.Frame) error {
			return nil
		},
	})
	e.Start(nil)
	chk.NoError(e.Established("s", "1.2", "", stomp.HeartbeatConfig{}, stomp.HeartbeatConfig{}))
	var err error
	for n := 0; n < 10 && err == nil; n++ {
		err = e.Write(frames.SendString("/queue/a", "never read"))
	}
	chk.ErrorIs(err, stomp.ErrSlowConsumer)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("engine did not close")
	}
	<-peer.Signals.AwaitClosed
	chk.Equal(int32(1), drops.Load())
	chk.ErrorIs(<-exceptions, stomp.ErrSlowConsumer)
}

func TestEngine_SendReceipt(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	chk.NoError(et.SendReceipt(frames.Begin("no-receipt")))
	chk.NoError(et.SendReceipt(stomp.Frame{
		Command: stomp.CommandBegin,
		Headers: stomp.Headers{{Key: stomp.HeaderReceipt, Value: "r-1"}},
	}))
	f, ok := et.Recv.Next(time.Second)
	chk.True(ok)
	chk.Equal(stomp.CommandReceipt, f.Command)
	chk.Equal(stomp.Headers{{Key: stomp.HeaderReceiptID, Value: "r-1"}}, f.Headers)
	chk.Equal(0, et.Recv.Len())
}

func TestEngine_Heartbeat(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	local := stomp.HeartbeatConfig{Out: time.Second, In: time.Second}
	remote := stomp.HeartbeatConfig{Out: 2 * time.Second, In: 500 * time.Millisecond}
	chk.NoError(et.Established("s", "1.2", "", local, remote))
	ping, pong := et.Heartbeat()
	chk.Equal(time.Second, ping)
	chk.Equal(2*time.Second, pong)
	chk.Len(et.Scheduler.Active(), 2)
	//
	chk.Equal(1, et.Scheduler.Fire(time.Second))
	f, ok := et.Recv.Next(time.Second)
	chk.True(ok)
	chk.True(f.IsHeartbeat())
	//
	// Silence up to twice the incoming period is tolerated.
	et.Clock.Advance(3 * time.Second)
	chk.Equal(1, et.Scheduler.Fire(2*time.Second))
	chk.Equal(stomp.StateConnected, et.State())
	//
	// Any inbound byte resets liveness.
	chk.NoError(et.Remote.Send(stomp.Heartbeat))
	chk.True((<-et.Received).IsHeartbeat())
	et.Clock.Advance(3 * time.Second)
	chk.Equal(1, et.Scheduler.Fire(2*time.Second))
	chk.Equal(stomp.StateConnected, et.State())
	//
	et.Clock.Advance(2 * time.Second)
	chk.Equal(1, et.Scheduler.Fire(2*time.Second))
	chk.True(et.WaitClosed(t))
	chk.Equal(int32(1), et.Drops.Load())
	chk.Len(et.Scheduler.Active(), 0)
	for _, timer := range et.Scheduler.Timers() {
		chk.Equal(1, timer.Cancels())
	}
}

func TestEngine_PingHandler(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest(func(et *engineTest) {
		et.CustomPing = true
	})
	defer et.Stop()
	chk.NoError(et.Established("s", "1.2", "", stomp.HeartbeatConfig{Out: time.Second}, stomp.HeartbeatConfig{In: time.Second}))
	chk.Equal(1, et.Scheduler.Fire(time.Second))
	chk.Equal(1, et.Scheduler.Fire(time.Second))
	chk.Equal(int32(2), et.Pings.Load())
	_, ok := et.Recv.Next(50 * time.Millisecond)
	chk.False(ok)
}

func TestEngine_NoHeartbeatTimers(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	ping, pong := et.Heartbeat()
	chk.Zero(ping)
	chk.Zero(pong)
	chk.Len(et.Scheduler.Timers(), 0)
}

func TestEngine_CloseConcurrent(t *testing.T) {
	defer leaktest.Check(t)()
	chk := assert.New(t)
	et := newEngineTest()
	defer et.Stop()
	et.Connect(t)
	var wg sync.WaitGroup
	var won atomic.Int32
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if et.Close() {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	chk.Equal(int32(1), won.Load())
	chk.True(et.WaitClosed(t))
}
