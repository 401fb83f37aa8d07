// Package responder defines the external responder gateway and its
// OpenAI-compatible client.
//
// The conversation service hands the gateway one message plus a bounded
// window of prior turns and expects a reply or ErrUnavailable; it never
// fails a user request on a responder error. Client talks to any
// /chat/completions endpoint that speaks the OpenAI wire format.
package responder
