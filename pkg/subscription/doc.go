// Package subscription maps logical event types to the wire actions
// that establish and tear them down, and restores standing
// subscriptions after reconnection.
//
// Each registration stores everything needed to replay it: the event
// type, the validated filter specification, the callback, and the
// matching unsubscribe request. After a reconnect the registry replays
// all active subscriptions sequentially with their original correlation
// ids, so the service treats each as the same logical subscription.
// Replay failures are retried with a bounded attempt count per
// subscription and never abort sibling subscriptions.
package subscription
