package stomp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeartbeatConfig is the heart-beat pair advertised in CONNECT and CONNECTED frames.
//
// Out is the smallest interval at which this side can send heart-beats and In is
// the interval at which it wants to receive them.  Zero disables a direction.
type HeartbeatConfig struct {
	Out time.Duration
	In  time.Duration
}

// String formats h as the value of a heart-beat header.
func (h HeartbeatConfig) String() string {
	return fmt.Sprintf("%d,%d", h.Out.Milliseconds(), h.In.Milliseconds())
}

// ParseHeartbeat parses a heart-beat header value.  An empty value is 0,0.
func ParseHeartbeat(value string) (HeartbeatConfig, error) {
	if value == "" {
		return HeartbeatConfig{}, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return HeartbeatConfig{}, fmt.Errorf("%w: invalid %v: %q", ErrFrame, HeaderHeartBeat, value)
	}
	var ms [2]int64
	for n, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || v < 0 {
			return HeartbeatConfig{}, fmt.Errorf("%w: invalid %v: %q", ErrFrame, HeaderHeartBeat, value)
		}
		ms[n] = v
	}
	return HeartbeatConfig{
		Out: time.Duration(ms[0]) * time.Millisecond,
		In:  time.Duration(ms[1]) * time.Millisecond,
	}, nil
}

// Negotiate computes the effective heart-beat periods for the local side.
//
// ping is the period at which local sends heart-beats: zero when either local
// cannot send or remote does not want them, otherwise the larger of the two.
// pong is the period at which local expects heart-beats from remote and is
// computed the same way from the other direction.
func Negotiate(local, remote HeartbeatConfig) (ping, pong time.Duration) {
	if local.Out > 0 && remote.In > 0 {
		ping = max(local.Out, remote.In)
	}
	if local.In > 0 && remote.Out > 0 {
		pong = max(local.In, remote.Out)
	}
	return ping, pong
}
