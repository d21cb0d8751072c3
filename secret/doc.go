// Package secret resolves credentials referenced from configuration.
//
// A configuration value may contain:
//   - ${VAR} environment references, expanded strictly (see ExpandEnvStrict)
//   - secret references of the form secretref:<provider>:<ref>
//
// A reference may be the whole value (secretref:env:S3_SECRET_KEY) or be
// embedded in a longer string (Bearer secretref:file:admin-token). The env
// and file providers are built in; others are added through a Registry.
package secret
