// Package core contains the authorization record model, the token and scope
// codecs, and the lifecycle service that drives an authorization through
// pending, active and inactive. Storage and provider adapters depend on this
// package; core must not depend on them.
package core
