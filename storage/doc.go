// Package storage implements policy-store persistence backends behind the
// interfaces.StorageBackend contract. Backends are constructed from location
// URIs by the factory:
//
//   - file:// - local filesystem
//   - vault:// - HashiCorp Vault KV v2
//   - s3:// - Amazon S3 or compatible object storage
//
// The trust manager stores a single sealed blob per policy store; backends
// persist named blobs and know nothing about their contents.
package storage
