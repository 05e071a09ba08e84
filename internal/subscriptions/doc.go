// Package subscriptions keeps the durable set of browser push subscriptions
// and dispatches notifications to the ones a matcher selects.
//
// The Store allows one record per endpoint; re-subscribing updates it in
// place. The Dispatcher prunes every subscription a push service reports
// gone in a single write once its pass completes.
package subscriptions
