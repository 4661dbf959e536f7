/*
Package config loads burrow's configuration.

Values are layered, later layers winning:

 1. Defaults
 2. A .env file in the working directory, if present
 3. The YAML file passed to Load, if it exists
 4. BURROW_* environment variables

The environment variables are BURROW_LOG_LEVEL, BURROW_LOG_JSON,
BURROW_STORAGE_BACKEND, BURROW_DATA_DIR, BURROW_ETCD_ENDPOINTS (comma
separated), BURROW_MAX_CONCURRENCY, BURROW_INVENTORY and BURROW_PASSPHRASE.

A minimal file:

	storage:
	  backend: etcd
	  etcd_endpoints: [http://10.0.0.2:2379]
	fanout:
	  max_concurrency: 32
	  timeout: 2m
	security:
	  passphrase: change-me

Validate rejects an unknown backend or one missing its settings, a
max_concurrency below one, an out of range SSH port and a path template
without {app}.
*/
package config
