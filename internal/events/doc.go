// Package events carries transfer progress and sheet change notifications between components.
//
// [Bus] wraps a watermill go channel pub/sub. Payloads are JSON; the media key of the track an event concerns
// travels in message metadata so observers can follow a single track with [Bus.SubscribeKey].
package events
