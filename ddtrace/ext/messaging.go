// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

package ext

// Semantic attribute keys used to derive operation names and tag broker spans.
const (
	MessagingSystem          = "messaging.system"
	MessagingOperation       = "messaging.operation"
	MessagingDestinationName = "messaging.destination.name"
	MessagingRoutingKey      = "messaging.rabbitmq.destination.routing_key"
	MessagingKafkaPartition  = "messaging.kafka.destination.partition"
	MessagingKafkaOffset     = "messaging.kafka.message.offset"
	MessagingKafkaKey        = "messaging.kafka.message.key"
	MessagingMessageBodySize = "messaging.message.body.size"
	KafkaBootstrapServers    = "messaging.kafka.bootstrap.servers"

	HTTPRequestMethod   = "http.request.method"
	DBSystem            = "db.system"
	RPCSystem           = "rpc.system"
	RPCService          = "rpc.service"
	FaaSInvokedProvider = "faas.invoked_provider"
	FaaSInvokedName     = "faas.invoked_name"
	FaaSTrigger         = "faas.trigger"
	GraphqlOperation    = "graphql.operation.type"
	NetworkProtocolName = "network.protocol.name"
)

// Span types.
const (
	SpanTypeWeb             = "web"
	SpanTypeHTTP            = "http"
	SpanTypeMessageProducer = "queue"
	SpanTypeMessageConsumer = "queue"
)
