// Package ingest coordinates one delivery through parse, upsert, and
// accounting. Both transports, the push webhook and the pull consumer,
// hand deliveries to the same ProcessOne so counting and classification
// cannot drift between them. The outcome tells the transport whether to
// acknowledge the delivery or let it come back.
package ingest
