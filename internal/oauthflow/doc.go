// Package oauthflow drives the authorization redirect sequence for one
// single-use link token:
//
//	initiate  -> the user is redirected to Google with a signed state
//	callback  -> the state is verified, the token consumed exactly once,
//	             the code exchanged and the credential stored
//	terminal  -> success, or a FlowError naming which step failed
//
// A token is consumed before the code exchange and is never revived, so a
// failed exchange still requires the user to start over.
package oauthflow
