package stomp

// Command is a STOMP command and often the first line in a STOMP frame.
type Command string

const (
	CommandAbort       Command = "ABORT"
	CommandAck         Command = "ACK"
	CommandBegin       Command = "BEGIN"
	CommandCommit      Command = "COMMIT"
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandDisconnect  Command = "DISCONNECT"
	CommandError       Command = "ERROR"
	CommandMessage     Command = "MESSAGE"
	CommandNack        Command = "NACK"
	CommandReceipt     Command = "RECEIPT"
	CommandSend        Command = "SEND"
	CommandStomp       Command = "STOMP"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"

	// CommandHeartbeat is never written as a command line; a frame carrying it
	// is encoded as a bare newline and the parser produces it for a bare newline
	// found between frames.
	CommandHeartbeat Command = "PING"
)

var knownCommands = map[Command]struct{}{
	CommandAbort:       {},
	CommandAck:         {},
	CommandBegin:       {},
	CommandCommit:      {},
	CommandConnect:     {},
	CommandConnected:   {},
	CommandDisconnect:  {},
	CommandError:       {},
	CommandMessage:     {},
	CommandNack:        {},
	CommandReceipt:     {},
	CommandSend:        {},
	CommandStomp:       {},
	CommandSubscribe:   {},
	CommandUnsubscribe: {},
}

// Valid returns true if c is a STOMP command that may appear on the wire.
func (c Command) Valid() bool {
	_, ok := knownCommands[c]
	return ok
}

// String implements fmt.Stringer.
func (c Command) String() string {
	return string(c)
}
