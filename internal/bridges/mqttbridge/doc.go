// Package mqttbridge mirrors topology state onto MQTT and feeds broker
// commands into the command pipeline.
//
// Outbound messages are retained, one field per topic, under
// grayaudio/state/. Inbound commands arrive on grayaudio/command/ and
// carry a JSON payload matching the operation's parameters. Reconcile
// pass summaries go to grayaudio/system/reconcile.
package mqttbridge
