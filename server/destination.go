package server

import (
	"strings"
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
)

// AckAuto is the default subscription ack mode.
const AckAuto = "auto"

// Outcome is the result of asking a destination to accept a subscription or message.
type Outcome int

const (
	// Accepted means the destination took the subscription or message.
	Accepted Outcome = iota + 1

	// Denied means access to the destination was refused.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Denied:
		return "denied"
	}
	return "unknown"
}

// A Subscription is one connection's subscription to a destination.
type Subscription struct {
	// ID is unique among the connection's active subscriptions.
	ID string

	// Destination is the destination name.
	Destination string

	// Ack is the ack mode from the SUBSCRIBE frame; AckAuto when absent.  The
	// destination copies it into MESSAGE frames when it is not AckAuto.
	Ack string

	// Connection is the subscribed connection.
	Connection *Connection
}

// Destination is an addressable topic or queue owning the subscriptions made to it.
//
// Implementations must be safe for concurrent use.
type Destination interface {
	// Name returns the destination name.
	Name() string

	// Subscribe registers sub.  Denied means access was refused and nothing
	// was registered.
	Subscribe(sub Subscription) Outcome

	// Unsubscribe removes the subscription id of conn and reports whether it existed.
	Unsubscribe(conn *Connection, id string) bool

	// UnsubscribeConnection removes every subscription of conn and returns how many.
	UnsubscribeConnection(conn *Connection) int

	// Subscriptions returns the ids conn has subscribed on this destination.
	Subscriptions(conn *Connection) []string

	// Dispatch routes a SEND frame from conn to subscribers.
	Dispatch(conn *Connection, frame stomp.Frame) Outcome

	// Len returns the number of subscriptions.
	Len() int
}

// Authorizer is the access control hook consulted by the built-in destinations
// for every subscribe and send.
type Authorizer interface {
	AllowSubscribe(conn *Connection, sub Subscription) bool
	AllowSend(conn *Connection, destination string, frame stomp.Frame) bool
}

// AllowAll is an Authorizer that permits everything.
type AllowAll struct{}

func (AllowAll) AllowSubscribe(*Connection, Subscription) bool   { return true }
func (AllowAll) AllowSend(*Connection, string, stomp.Frame) bool { return true }

// DestinationFactory creates the destination called name.  Returning nil rejects
// the name.
type DestinationFactory func(name string) Destination

// DefaultFactory creates a Queue for names beginning with /queue/ and a Topic
// otherwise.  auth may be nil.
func DefaultFactory(auth Authorizer) DestinationFactory {
	return func(name string) Destination {
		if strings.HasPrefix(name, "/queue/") {
			return NewQueue(name, auth)
		}
		return NewTopic(name, auth)
	}
}

type subscriptionKey struct {
	conn *Connection
	id   string
}

// subscriptionSet is the bookkeeping shared by Topic and Queue.  Subscriptions
// keep their insertion order so fan-out and round-robin are deterministic.
type subscriptionSet struct {
	name string
	auth Authorizer

	mu    sync.Mutex
	order []subscriptionKey
	subs  map[subscriptionKey]Subscription
}

func newSubscriptionSet(name string, auth Authorizer) subscriptionSet {
	if auth == nil {
		auth = AllowAll{}
	}
	return subscriptionSet{
		name: name,
		auth: auth,
		subs: map[subscriptionKey]Subscription{},
	}
}

func (s *subscriptionSet) Name() string {
	return s.name
}

func (s *subscriptionSet) Subscribe(sub Subscription) Outcome {
	if !s.auth.AllowSubscribe(sub.Connection, sub) {
		return Denied
	}
	if sub.Ack == "" {
		sub.Ack = AckAuto
	}
	key := subscriptionKey{conn: sub.Connection, id: sub.ID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; !ok {
		s.order = append(s.order, key)
	}
	s.subs[key] = sub
	return Accepted
}

func (s *subscriptionSet) Unsubscribe(conn *Connection, id string) bool {
	key := subscriptionKey{conn: conn, id: id}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[key]; !ok {
		return false
	}
	delete(s.subs, key)
	s.compact()
	return true
}

func (s *subscriptionSet) UnsubscribeConnection(conn *Connection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.subs {
		if key.conn == conn {
			delete(s.subs, key)
			n++
		}
	}
	if n > 0 {
		s.compact()
	}
	return n
}

func (s *subscriptionSet) Subscriptions(conn *Connection) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, key := range s.order {
		if key.conn == conn {
			ids = append(ids, key.id)
		}
	}
	return ids
}

func (s *subscriptionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// compact drops removed keys from order; s.mu must be held.
func (s *subscriptionSet) compact() {
	out := s.order[:0]
	for _, key := range s.order {
		if _, ok := s.subs[key]; ok {
			out = append(out, key)
		}
	}
	s.order = out
}

// message builds the MESSAGE frame delivered to sub for a SEND frame.
func message(sub Subscription, send stomp.Frame) stomp.Frame {
	messageID := stomp.MessageID()
	f := frames.Message(sub.Destination, messageID, sub.ID, send.Body)
	for _, h := range send.Headers {
		switch h.Key {
		case stomp.HeaderDestination, stomp.HeaderReceipt, stomp.HeaderTransaction, stomp.HeaderContentLength:
		default:
			f.Headers.Add(h.Key, h.Value)
		}
	}
	if sub.Ack != AckAuto {
		f.Headers.Set(stomp.HeaderAck, messageID)
	}
	return f
}

// Topic is a destination that broadcasts every message to all subscriptions.
type Topic struct {
	subscriptionSet
}

// NewTopic creates a Topic.  auth may be nil.
func NewTopic(name string, auth Authorizer) *Topic {
	return &Topic{subscriptionSet: newSubscriptionSet(name, auth)}
}

// Dispatch implements Destination.
func (t *Topic) Dispatch(conn *Connection, frame stomp.Frame) Outcome {
	if !t.auth.AllowSend(conn, t.name, frame) {
		return Denied
	}
	t.mu.Lock()
	subs := make([]Subscription, 0, len(t.order))
	for _, key := range t.order {
		subs = append(subs, t.subs[key])
	}
	t.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Connection.Write(message(sub, frame)) // closed and overflowing subscribers are removed by their teardown
	}
	return Accepted
}

// Queue is a destination that delivers each message to one subscription in
// round-robin order.
type Queue struct {
	subscriptionSet
	next int
}

// NewQueue creates a Queue.  auth may be nil.
func NewQueue(name string, auth Authorizer) *Queue {
	return &Queue{subscriptionSet: newSubscriptionSet(name, auth)}
}

// Dispatch implements Destination.  A message sent while nobody is subscribed is dropped.
func (q *Queue) Dispatch(conn *Connection, frame stomp.Frame) Outcome {
	if !q.auth.AllowSend(conn, q.name, frame) {
		return Denied
	}
	q.mu.Lock()
	if len(q.order) == 0 {
		q.mu.Unlock()
		return Accepted
	}
	q.next %= len(q.order)
	sub := q.subs[q.order[q.next]]
	q.next++
	q.mu.Unlock()
	_ = sub.Connection.Write(message(sub, frame))
	return Accepted
}
