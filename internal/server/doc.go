// Package server exposes transfer progress over HTTP while a transfer runs.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns ("GET /status"), so a request with the
// wrong method gets 405 from the mux itself.
//
// # Handlers
//
// [StatusHandler] serves a JSON snapshot of every transfer the queue knows about.
//
// [StreamHandler] relays [events.TopicTransferStatus] events as Server-Sent Events. Each client gets its own bus
// subscription tied to the request context, so a disconnect releases it. A ?key= query narrows the stream to one
// media key.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
//
// # Serving
//
// [Serve] runs an [http.Server] until its context ends, then shuts it down gracefully.
package server
