// Package bridge connects to a radio bridge daemon over a websocket.
//
// The daemon owns the serial or TCP link to the radio and exchanges JSON
// text frames with the gateway:
//
//	-> {"type":"connected","my_node_num":305419896}
//	-> {"type":"packet","packet":{"fromId":"!a1b2c3d4","toId":"!12345678","channel":0,"decoded":{"portnum":"TEXT_MESSAGE_APP","text":".ping"}}}
//	<- {"type":"send","text":"pong!","destination_id":"!a1b2c3d4"}
//	<- {"type":"send","text":"hello mesh","channel_index":0}
//
// The first frame after dialing must be "connected". The adapter redials
// with backoff whenever the connection drops.
package bridge
