// Package dispatch answers command messages received over the mesh.
//
// A Dispatcher runs every inbound packet through a fixed sequence: the
// addressing gate drops anything not meant for the gateway, the text is
// trimmed and lowercased, the result is looked up in the command Table, and
// the resolved reply is sent straight back to the sender. Unrecognized text
// gets no reply so shared channels stay quiet.
package dispatch
