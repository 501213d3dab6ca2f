// Package google turns stored authorized-user credentials into OAuth2 token
// sources and HTTP clients for Google APIs.
//
// The credential document is resolved elsewhere (secret store, file or inline
// value); this package only parses it and wires the refresh flow.
package google
