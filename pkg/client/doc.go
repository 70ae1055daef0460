// Package client is the high-level entry point for the cloud
// integration.
//
// A Client wires the building blocks together: the connection manager
// dials and authenticates, the correlator matches requests to
// responses and routes push traffic, and the subscription registry
// tracks standing registrations and replays them after a reconnect.
// Typed helpers cover the common event families so callers do not
// handle raw payloads:
//
//	c, err := client.New(client.Config{
//		Address:      "wss://partner.example.com/ws",
//		Domain:       "partner.example.com",
//		ClientID:     "integration",
//		ClientSecret: secret,
//	})
//	if err != nil { ... }
//	if _, err := c.Connect(ctx); err != nil { ... }
//	defer c.Close()
//
//	c.RegisterLocationUpdate(ctx, nil,
//		func(updates map[int64]*wire.TagLocation) { ... })
package client
