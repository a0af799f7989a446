// Package mqtt wraps paho.mqtt.golang for the audio core's broker
// connection.
//
// The wrapper adds subscription tracking with automatic re-subscription
// after reconnect, panic recovery around message handlers, Last Will
// and Testament for offline detection, and topic builders for the
// grayaudio topic hierarchy.
//
// State topics are retained and carry one field per topic, so a
// dashboard subscribing to grayaudio/state/# receives the complete
// current state immediately. Command topics are consumed by the MQTT
// bridge and fed into the command pipeline.
package mqtt
