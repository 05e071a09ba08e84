// Package kafka is the optional Kafka intake for booking events.
//
// A sarama consumer group reads JSON-encoded fanout.Event values from one
// topic and hands each to a Publisher. Trace context carried in message
// headers is continued. Malformed messages are logged and committed.
package kafka
