package model

import "time"

// ActiveSession represents a checkout-session guard: a coarse, short-lived
// claim over an exact seat set taken while a user works through seat
// selection, layered above the per-seat locks.  Sessions live in Redis and
// expire on their own; they are a defense-in-depth signal, never the
// authoritative availability check.
//
// Fields:
//  Holder    – opaque session holder identity (UUID issued to the client).
//  ShowDate  – show date the seats belong to.
//  SeatKeys  – the exact seat combination being worked on.
//  ExpiresAt – when the guard lapses.
//  CreatedAt – when the guard was opened.
type ActiveSession struct {
	Holder    string    // session holder token
	ShowDate  string    // show date of the guarded seats
	SeatKeys  []SeatKey // guarded seat combination
	ExpiresAt time.Time // guard deadline
	CreatedAt time.Time // guard creation time
}
