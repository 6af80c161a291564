package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFactory(t *testing.T) {
	chk := assert.New(t)
	factory := DefaultFactory(nil)
	chk.IsType(&Queue{}, factory("/queue/jobs"))
	chk.IsType(&Topic{}, factory("/topic/news"))
	chk.IsType(&Topic{}, factory("anything"))
}

func TestMemoryRegistry(t *testing.T) {
	chk := assert.New(t)
	reg := NewRegistry(nil)
	//
	_, ok := reg.Get("/topic/b")
	chk.False(ok)
	b, created := reg.GetOrCreate("/topic/b")
	chk.True(created)
	again, created := reg.GetOrCreate("/topic/b")
	chk.False(created)
	chk.Same(b, again)
	a, _ := reg.GetOrCreate("/topic/a")
	chk.Equal(2, reg.Len())
	//
	names := []string{}
	for _, d := range reg.Destinations() {
		names = append(names, d.Name())
	}
	chk.Equal([]string{"/topic/a", "/topic/b"}, names)
	//
	b.Subscribe(Subscription{ID: "1", Destination: "/topic/b"})
	chk.False(reg.Release(b), "destination with subscriptions stays")
	chk.True(reg.Release(a))
	chk.False(reg.Release(a))
	b.Unsubscribe(nil, "1")
	chk.True(reg.Release(b))
	chk.Equal(0, reg.Len())
	//
	// A stale destination never removes its replacement.
	replacement, created := reg.GetOrCreate("/topic/b")
	chk.True(created)
	chk.False(reg.Release(b))
	got, ok := reg.Get("/topic/b")
	chk.True(ok)
	chk.Same(replacement, got)
}

func TestMemoryRegistry_FactoryRejects(t *testing.T) {
	chk := assert.New(t)
	reg := NewRegistry(func(name string) Destination {
		if name == "/topic/ok" {
			return NewTopic(name, nil)
		}
		return nil
	})
	d, created := reg.GetOrCreate("/forbidden")
	chk.Nil(d)
	chk.False(created)
	chk.Equal(0, reg.Len())
	d, created = reg.GetOrCreate("/topic/ok")
	chk.NotNil(d)
	chk.True(created)
}

func TestMemoryRegistry_ZeroValue(t *testing.T) {
	chk := assert.New(t)
	var reg MemoryRegistry
	d, created := reg.GetOrCreate("/queue/z")
	chk.True(created)
	chk.IsType(&Queue{}, d)
}
