/*
Command resourced runs a content-addressed resource store.

	resourced --settings settings.yaml serve --listen-addr :8080
	resourced --settings settings.yaml import --collection persistent ./logo.png https://example.com/style.css
	resourced --settings settings.yaml publish static
	resourced --settings settings.yaml objects --collection static
	resourced --settings settings.yaml flush-cache --tag collection_static

Without --settings a single "persistent" collection is served from
Data/Persistent/Resources below the working directory and published to
Web/_Resources/Persistent.
*/
package main
