// Package config provides configuration management for prositlmdb.
//
// # Sources
//
// A Config is assembled from three layers, later layers winning:
//
//  1. DefaultConfig(), which matches the layout of the published dataset
//  2. an optional YAML file, with ${VAR_NAME} references substituted
//  3. PROSITLMDB_* environment variables (dots become underscores)
//
// # Example File
//
//	input:
//	  root: s3://my-bucket/prosit
//	  data_types: [hcd]
//	  splits: [train, val]
//	output:
//	  root: ${SCRATCH}/lmdb
//	  split_aliases:
//	    ho: test
//	conversion:
//	  batch_size: 50000
//
// # Usage
//
//	cfg, err := config.Load("prositlmdb.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
