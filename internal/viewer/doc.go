// Package viewer is the client side of the stream: it keeps a WebSocket
// subscription to the server alive across drops and folds the received
// events into a bounded View.
package viewer
