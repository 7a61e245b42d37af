// Package config loads the transcoder configuration.
//
// A Config starts from Default, then each layer file is merged onto it in
// order, then TRANSCODER_* environment variables are applied. Layers may be
// JSON or YAML, picked by extension. Only the keys present in a layer
// override the result; maps merge recursively and lists replace.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A minimal YAML layer that fails the whole run on the first HL7 error and
// publishes records to NATS:
//
//	formats:
//	  hl7:
//	    failure_scope: run
//	output:
//	  success:
//	    sinks: [nats]
//	    nats:
//	      subject: feeds.{format}
//	nats:
//	  urls: [nats://nats:4222]
//	  reconnect_wait: 5s
//
// Environment overrides: TRANSCODER_NATS_URLS (comma separated),
// TRANSCODER_NATS_USERNAME, TRANSCODER_NATS_PASSWORD, TRANSCODER_NATS_TOKEN,
// TRANSCODER_INPUT_TYPE, TRANSCODER_INPUT_FORMAT, TRANSCODER_INPUT_PATHS,
// TRANSCODER_OUTPUT_DIR, TRANSCODER_WORKERS and TRANSCODER_METRICS_ADDR.
//
// Config files are read with size and nesting limits and must resolve inside
// the working directory when given as relative paths.
package config
