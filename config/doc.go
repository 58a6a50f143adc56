// Package config reads the YAML settings of a resource store and builds the
// storages, targets, collections and caches they describe.
//
// Example settings:
//
//	context: Production
//	install_root: /srv/app
//	storages:
//	  persistent: file://${INSTALL_ROOT}/Data/Persistent/Resources/
//	  static: package://${INSTALL_ROOT}/Packages/
//	targets:
//	  web: file://${INSTALL_ROOT}/Web/_Resources/Persistent/?baseUri=/_Resources/Persistent&compression=gzip
//	  cdn: s3://assets-bucket/site?region=eu-central-1
//	collections:
//	  persistent:
//	    storage: persistent
//	    target: [web, cdn]
//	  static:
//	    storage: static
//	    target: web
//	    path_patterns: ["*/Images/*"]
//	repository:
//	  store: sqlite
//	  path: Data/Persistent/Resources.db
//	cache:
//	  store: sqlite
//	  path: Data/Temporary/cache.db
//	  caches:
//	    collections:
//	      default_lifetime: 1h
package config
