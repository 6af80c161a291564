package testsuite

import (
	"net"
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// PeerFactory creates connected pairs of stomp.Peer for tests.
//
// By default Make returns peers created with stomp.Pipe and the peers are
// connected by memory pipes; see io.Pipe.
//
// By calling AsNetwork the peer factory will start a net.Listener and peers
// created by Make will be created by a net.Dial (remote peer) and Listener.Accept (local peer).
type PeerFactory struct {
	// WaitGroup tracks the accept goroutine of networked peers.
	WaitGroup *sync.WaitGroup

	// Locals are the local stomp.Peers and remotes are the remote stomp.Peers.
	Locals  []*stomp.Peer
	Remotes []*stomp.Peer

	// Listener is created and set by the AsNetwork method.
	Listener net.Listener
}

// Make returns a remote and local peer connected to each other.  Neither is started.
func (factory *PeerFactory) Make() (Remote *stomp.Peer, Local *stomp.Peer, err error) {
	if factory.Listener == nil {
		// as pipes
		Local, Remote = stomp.Pipe()
	} else {
		// as net conns
		var lconn, rconn net.Conn
		var errAccept error
		if factory.WaitGroup != nil {
			factory.WaitGroup.Add(1)
		}
		acceptC := make(chan stomp.Signal)
		go func() {
			defer func() {
				if factory.WaitGroup != nil {
					factory.WaitGroup.Done()
				}
				close(acceptC)
			}()
			lconn, errAccept = factory.Listener.Accept()
		}()
		rconn, err = net.Dial(factory.Listener.Addr().Network(), factory.Listener.Addr().String())
		<-acceptC // need to block until the goroutine returns otherwise errAccept and lconn may not yet  be set
		if err != nil {
			if lconn != nil {
				_ = lconn.Close()
			}
			return nil, nil, err
		}
		if err = errAccept; err != nil {
			_ = rconn.Close()
			return nil, nil, err
		}
		Local = &stomp.Peer{
			R: lconn,
			W: lconn,
		}
		Remote = &stomp.Peer{
			R: rconn,
			W: rconn,
		}
	}
	factory.Locals = append(factory.Locals, Local)
	factory.Remotes = append(factory.Remotes, Remote)
	return Remote, Local, nil
}

// AsNetwork configures the peer factory to create net worked peers using net.Listener and net.Dial.
func (factory *PeerFactory) AsNetwork() error {
	var err error
	factory.Listener, err = net.Listen("tcp", "127.0.0.1:")
	return err
}

// Close closes the listener created by AsNetwork.
func (factory *PeerFactory) Close() error {
	if factory.Listener == nil {
		return nil
	}
	return factory.Listener.Close()
}
