// Package services implements the remote collaborators used by backups and transfers.
//
// # Object Stores
//
// All remote storage goes through the [ObjectStore] interface:
//
//   - [S3Store] : any S3-compatible bucket via aws-sdk-go-v2, path-style addressing. When a LAN and a public
//     endpoint are both configured, a HEAD of the probe object picks the LAN one if it answers.
//   - [WebDAVStore] : a WebDAV share over basic auth.
//
// [BreakerStore] wraps either one with a circuit breaker so an unreachable store fails fast with
// [shared.ErrServiceUnavailable] instead of timing out on every queued transfer.
//
// Media objects are keyed by [MediaObjectKey]: "<prefix>/<title>-<artist>.mp3", or the track id for tracks that
// already live in the store.
//
// # Resolvers
//
// A [Resolver] turns a track and quality into a fetchable [MediaSource]:
//
//   - [ObjectStoreResolver] : presigned GET URLs for object-store tracks
//   - [TemplateResolver] : URLs built from a configured template
//   - [ChainResolver] : first resolver with an answer wins
//   - [RateLimitedResolver] : token bucket in front of another resolver
//
// # Error Handling
//
// Services use sentinel errors from the shared package:
//   - [shared.ErrObjectNotFound] : key absent
//   - [shared.ErrTransferIO] : request or body failure
//   - [shared.ErrMissingCredentials] : server rejected the credentials
//   - [shared.ErrNoPlayableSource] : resolver has nothing for the requested quality
package services
