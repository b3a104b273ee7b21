// Package config loads the runtime configuration and the resource
// descriptions of a management core instance.
//
// # Runtime Configuration
//
// Config is read from YAML and validated with struct tags:
//
//	telemetry:
//	  service_name: mgmtcore
//	  service_version: "1.0"
//	  logging: {level: info, format: json}
//	store:
//	  path: /var/lib/mgmt/model.db
//	policy:
//	  enabled: true
//	  paths: [/etc/mgmt/policies]
//	  watch: true
//	  data:
//	    protected: ["/server=main/queue=dlq"]
//	descriptions: [/etc/mgmt/descriptions]
//	engine:
//	  lock_timeout: 30s
//
// # Resource Descriptions
//
// Resource descriptions are authored in CUE and validated against the
// built-in schemas held by SchemaRegistry. A description source declares
// resources, keyed by address pattern, and operations implemented by
// Starlark scripts:
//
//	resources: [{
//		pattern: "/server=*"
//		attributes: {
//			threads: {type: "INT", default: 4, constraint: ">=1 & <=64"}
//			port: {type: "INT", restart_required: true}
//		}
//	}]
//
//	operations: [{
//		pattern:   "/server=*"
//		name:      "scale"
//		read_only: false
//		script: """
//			changes = {"threads": model.get("threads", 4) * params["factor"]}
//			"""
//	}]
//
// Loading reports problems with file and line positions in
// Descriptions.Errors. Descriptions.Apply registers the result with a
// registry.Registry and a handlers.Handlers.
//
//	loader := config.NewDescriptionLoader(logger)
//	descs, err := loader.Load(cfg.Descriptions)
//	if err != nil {
//	    return err
//	}
//	if err := descs.Apply(reg, h); err != nil {
//	    return err
//	}
package config
