// Package calendar provides a client for the Google Calendar API and the
// calendar executor built on it.
//
// Searches list upcoming events on the primary calendar. Create requests
// produce an event draft for the user to confirm; nothing is written to the
// calendar until then.
package calendar
