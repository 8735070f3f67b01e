// Package config provides configuration management for the healthgraph
// pipeline.
//
// Configuration is loaded from JSON files with layer merging (base +
// overrides) followed by HEALTHGRAPH_* environment variable overrides,
// so a single base file can be shared across environments while
// credentials and endpoints come from the deployment.
//
// # Core Components
//
// Config: the complete application configuration: service identity,
// NATS connection, Neo4j connection, pipeline tuning, HTTP gateway and
// JetStream intake sections.
//
// SafeConfig: thread-safe wrapper using RWMutex and deep cloning to
// prevent concurrent access issues and accidental mutations.
//
// Loader: loads configuration with layer merging and environment
// variable overrides. Duration fields accept Go duration strings
// ("30s", "2m") in the JSON files.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.json")
//	loader.AddLayer("configs/production.json") // overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
