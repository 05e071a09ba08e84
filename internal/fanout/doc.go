// Package fanout announces booking events on every notification channel.
//
// An Orchestrator receives one Event and schedules three independent
// branches: a write to matching live connections, a push dispatch and a
// direct email. A failed email is stored in the retry queue. The caller never
// waits for, or learns about, delivery outcomes.
//
// Example:
//
//	o := fanout.New(hub, dispatcher, smtp, queue, fanout.Options{
//	    OperatorAddress:   "ops@example.com",
//	    BroadcastFallback: true,
//	})
//	_ = o.Publish(ctx, fanout.Event{Kind: fanout.KindCreated, BookingID: "b-1"})
//	defer o.Close(shutdownCtx)
package fanout
