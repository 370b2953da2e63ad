// Package wire defines the message maps exchanged with the game server and
// their MessagePack framing.
//
// Client -> Server
// join:
//   token: string            // one-time join credential (seat ticket)
//
// resume:
//   ticket: string           // resumption ticket
//   game: string             // target game code
//
// leave: {}
// ping: {}
//
// round_ack:
//   round: number
//
// Server -> Client
// joined / resumed:
//   game: string
//
// ticket:
//   ticket: string           // rotated resumption ticket
//
// state:
//   version: number
//   round: number
//
// game_starting: {}
//
// round_complete:
//   round: number
//
// error:
//   code: string             // e.g. "join_already_started", "reconnect_retry_later"
//   message: string
//
// The room phase writes "type" as a string, the game phase as a small integer.
package wire
