// Package mail renders and delivers account email: password reset and
// verification links, and security notifications.
//
// [SMTPSender] delivers through gomail. [Outbox] keeps messages in memory
// for development mode and tests. The engine builds tokens and links; this
// package only formats and transports them.
package mail
