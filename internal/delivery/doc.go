// Package delivery holds the outbound channel clients: Server-Sent Events
// writes, Web Push sends and SMTP email sends.
//
// Clients report failures but never act on them. Every error falls into one
// of three classes:
//
//   - ErrGone / ErrInvalidTarget: the destination will never accept
//     delivery. Push subscriptions answering 404 or 410 are pruned.
//   - *TransientError: retrying later may succeed.
//   - ErrNotConfigured: the channel has no credentials. Callers skip it.
package delivery
