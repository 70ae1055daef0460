// Package correlate pairs requests with their asynchronous responses
// over the shared connection.
//
// Every outbound request is tracked by correlation id in a pending
// table; the matching response resolves it. A periodic sweep rejects
// requests that outlive their deadline, and a connection loss rejects
// everything pending at once, so no waiter is ever leaked.
//
// Unsolicited server messages (streamed updates) bypass the pending
// table: they are dispatched to push listeners registered under the
// message's action key, in registration order.
package correlate
