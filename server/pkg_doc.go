// Package server contains a STOMP server implementation.
//
// Every client connection is a Connection driven by a stomp.Engine.  Destinations
// are created on first SUBSCRIBE by the server's Registry and removed when their
// last subscription leaves.  Names starting with /queue/ are round-robin work
// queues; all other destinations are broadcast topics.
//
// Access control is an Authorizer consulted by the built-in destinations;
// credentials in CONNECT are checked by Options.Authenticate.
package server
