// Package auth supplies access tokens for the cloud service.
//
// The connection layer consumes tokens through the TokenProvider
// function type; StaticToken wraps a pre-minted token and HTTPProvider
// performs the client-credentials grant against the authentication
// server. Providers are called at connect time and again before every
// scheduled renewal, so they must be safe for repeated use.
package auth
