// Package frames builds STOMP frames for every command.
package frames

import (
	"bytes"
	"strconv"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Empty is an empty STOMP frame and is provided as a convenience.
var Empty stomp.Frame

// Heartbeat is the heart-beat frame.
var Heartbeat = stomp.Heartbeat

// Connect creates a CONNECT frame.
//
// login and passcode are omitted when empty.
func Connect(host, acceptVersion, login, passcode string, hb stomp.HeartbeatConfig) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandConnect,
		Headers: stomp.Headers{
			{Key: stomp.HeaderAcceptVersion, Value: acceptVersion},
			{Key: stomp.HeaderHost, Value: host},
			{Key: stomp.HeaderHeartBeat, Value: hb.String()},
		},
	}
	if login != "" {
		f.Headers.Set(stomp.HeaderLogin, login)
	}
	if passcode != "" {
		f.Headers.Set(stomp.HeaderPasscode, passcode)
	}
	return f
}

// Connected creates a CONNECTED frame.
func Connected(session, version, server string, hb stomp.HeartbeatConfig) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandConnected,
		Headers: stomp.Headers{
			{Key: stomp.HeaderVersion, Value: version},
			{Key: stomp.HeaderSession, Value: session},
			{Key: stomp.HeaderServer, Value: server},
			{Key: stomp.HeaderHeartBeat, Value: hb.String()},
		},
	}
	return f
}

// Error creates an ERROR frame from an existing frame.
//
// message becomes the message header in the returned frame which should
// be a short description of the error.
//
// If present body becomes the leading portion of the frame body.
//
// If frame is a non-empty frame then it will be partially inserted into the returned
// frame's body to allow for contextual information about a frame causing the error.
// A receipt header on frame is echoed as receipt-id.
func Error(message string, body string, frame stomp.Frame) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandError,
		Headers: stomp.Headers{
			{Key: stomp.HeaderMessage, Value: message},
		},
	}
	if receipt, ok := frame.Headers.Lookup(stomp.HeaderReceipt); ok {
		f.Headers.Set(stomp.HeaderReceiptID, receipt)
	}
	buf := &bytes.Buffer{}
	if !frame.Empty() {
		buf.WriteString("The frame\n----\n")
		context := stomp.Frame{Command: frame.Command, Headers: frame.Headers}
		buf.Write(bytes.TrimRight(context.Encode(false), "\x00"))
		buf.WriteString("----\n")
	}
	if body != "" {
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	if buf.Len() > 0 {
		f.Body = buf.Bytes()
		f.Headers.Set(stomp.HeaderContentType, "text/plain")
		f.Headers.Set(stomp.HeaderContentLength, strconv.Itoa(buf.Len()))
	}
	return f
}

// Receipt creates a RECEIPT frame.
func Receipt(receiptID string) stomp.Frame {
	return stomp.Frame{
		Command: stomp.CommandReceipt,
		Headers: stomp.Headers{
			{Key: stomp.HeaderReceiptID, Value: receiptID},
		},
	}
}

// Send creates a SEND frame.
//
// dest is required by STOMP protocol but not enforced by this function.
func Send(dest string, body []byte) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandSend,
		Headers: stomp.Headers{
			{Key: stomp.HeaderDestination, Value: dest},
		},
		Body: body,
	}
	if len(body) > 0 {
		f.Headers.Set(stomp.HeaderContentLength, strconv.Itoa(len(body)))
	}
	return f
}

// SendString creates a SEND frame from a string message body.
//
// dest is required by STOMP protocol but not enforced by this function.
func SendString(dest string, body string) stomp.Frame {
	return Send(dest, []byte(body))
}

// Message creates a MESSAGE frame.
func Message(dest, messageID, subscription string, body []byte) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandMessage,
		Headers: stomp.Headers{
			{Key: stomp.HeaderDestination, Value: dest},
			{Key: stomp.HeaderMessageID, Value: messageID},
			{Key: stomp.HeaderSubscription, Value: subscription},
		},
		Body: body,
	}
	if len(body) > 0 {
		f.Headers.Set(stomp.HeaderContentLength, strconv.Itoa(len(body)))
	}
	return f
}

// Subscribe creates a SUBSCRIBE frame.
//
// dest and id are required by STOMP protocol but not enforced by this function.
// ack is optional and omitted when empty.
func Subscribe(dest, ack, id string) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandSubscribe,
		Headers: stomp.Headers{
			{Key: stomp.HeaderDestination, Value: dest},
		},
	}
	if id != "" {
		f.Headers.Set(stomp.HeaderID, id)
	}
	if ack != "" {
		f.Headers.Set(stomp.HeaderAck, ack)
	}
	return f
}

// Unsubscribe creates an UNSUBSCRIBE frame.
func Unsubscribe(id string) stomp.Frame {
	return stomp.Frame{
		Command: stomp.CommandUnsubscribe,
		Headers: stomp.Headers{
			{Key: stomp.HeaderID, Value: id},
		},
	}
}

// Begin creates a BEGIN frame.
func Begin(tx string) stomp.Frame {
	return transaction(stomp.CommandBegin, tx)
}

// Commit creates a COMMIT frame.
func Commit(tx string) stomp.Frame {
	return transaction(stomp.CommandCommit, tx)
}

// Abort creates an ABORT frame.
func Abort(tx string) stomp.Frame {
	return transaction(stomp.CommandAbort, tx)
}

func transaction(cmd stomp.Command, tx string) stomp.Frame {
	return stomp.Frame{
		Command: cmd,
		Headers: stomp.Headers{
			{Key: stomp.HeaderTransaction, Value: tx},
		},
	}
}

// Ack creates an ACK frame.  tx is omitted when empty.
func Ack(id, tx string) stomp.Frame {
	return acknowledge(stomp.CommandAck, id, tx)
}

// Nack creates a NACK frame.  tx is omitted when empty.
func Nack(id, tx string) stomp.Frame {
	return acknowledge(stomp.CommandNack, id, tx)
}

func acknowledge(cmd stomp.Command, id, tx string) stomp.Frame {
	f := stomp.Frame{
		Command: cmd,
		Headers: stomp.Headers{
			{Key: stomp.HeaderID, Value: id},
		},
	}
	if tx != "" {
		f.Headers.Set(stomp.HeaderTransaction, tx)
	}
	return f
}

// Disconnect creates a DISCONNECT frame.
func Disconnect() stomp.Frame {
	return stomp.Frame{
		Command: stomp.CommandDisconnect,
	}
}
