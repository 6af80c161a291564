package testsuite

import (
	"fmt"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
)

// Subscriptions is a list of subscription types.
//
// Many of the server tests use a variable number of topic destinations and send
// variable number of messages per destination.
//
// The Subscriptions type reduces the boiler plate of generating frames, iterating topics to send
// various server commands, etc.
type Subscriptions []Subscription

// NewSubscriptions creates a subscriptions type with n subscriptions where each subscription
// has dest as a prefix and "/n" as a suffix:
func NewSubscriptions(dest string, n int) Subscriptions {
	var subs Subscriptions
	for k := 0; k < n; k++ {
		topic := fmt.Sprintf("%v/%v", dest, k)
		s := Subscription{
			Topic:     topic,
			SendFrame: frames.SendString(topic, "-"),
		}
		subs = append(subs, s)
	}
	return subs
}

// NewCountMap returns a new map[string]int where the key is the subscription destination
// and the value is initially zero.  This is useful for tests that want to count messages-by-destination.
func (subs Subscriptions) NewCountMap() map[string]int {
	var rv map[string]int = map[string]int{}
	for _, s := range subs {
		rv[s.Topic] = 0
	}
	return rv
}

// Subscribe subscribes client to every destination and waits for each receipt.
// Subscription ids are the destination names.
func (subs Subscriptions) Subscribe(client *MockClient) error {
	for _, s := range subs {
		receipt := "sub:" + s.Topic
		if err := client.Frame(WithReceipt(s.SubscribeFrame(), receipt)); err != nil {
			return err
		} else if err = client.ExpectReceipt(receipt); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe unsubscribes client from every destination and waits for each receipt.
func (subs Subscriptions) Unsubscribe(client *MockClient) error {
	for _, s := range subs {
		receipt := "unsub:" + s.Topic
		if err := client.Frame(WithReceipt(frames.Unsubscribe(s.Topic), receipt)); err != nil {
			return err
		} else if err = client.ExpectReceipt(receipt); err != nil {
			return err
		}
	}
	return nil
}

// Send will send each subscription's send frame through client n times.
func (subs Subscriptions) Send(n int, client *MockClient) error {
	for k := 0; k < n; k++ {
		for _, s := range subs {
			if err := client.Frame(s.SendFrame); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count reads total MESSAGE frames from client and counts them by destination.
func (subs Subscriptions) Count(client *MockClient, total int) (map[string]int, error) {
	counts := subs.NewCountMap()
	for k := 0; k < total; k++ {
		frame, err := client.Expect(stomp.CommandMessage)
		if err != nil {
			return counts, err
		}
		counts[frame.Header(stomp.HeaderDestination)]++
	}
	return counts, nil
}

// Subscription contains meta information describing a destination and frame-to-send.
type Subscription struct {
	Topic     string
	SendFrame stomp.Frame
}

// SubscribeFrame returns a SUBSCRIBE frame for this subscription whose id is the topic.
func (s Subscription) SubscribeFrame() stomp.Frame {
	return frames.Subscribe(s.Topic, "", s.Topic)
}
