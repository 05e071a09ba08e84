// Package retryqueue keeps emails whose direct send failed and retries them
// with exponential backoff.
//
// Items are created with zero attempts and due immediately. Each failed
// retry increments Attempts and pushes NextAttemptAt out by
// min(base*2^attempts, cap). A successful send deletes the item, so delivery
// is at-least-once. With MaxAttempts set, items that keep failing move to
// the dead state instead of retrying forever; Requeue moves them back.
//
// Example:
//
//	q := retryqueue.Open(db)
//	_, _ = q.Enqueue(ctx, delivery.Message{To: "rider@example.com", Subject: "Booking confirmed"}, bookingID)
//	p := retryqueue.NewProcessor(q, mailer, retryqueue.Options{Interval: 30 * time.Second})
//	go p.Run(ctx)
package retryqueue
