// Copyright 2024-2026 Aiku AI

// Package archiver turns the history of public Matrix rooms into a static
// site.
//
// For every room the pipeline runs the same steps:
//
//  1. A [Fetcher] returns the room's events oldest first, either straight
//     from the homeserver ([MatrixFetcher]) or through matrix-commander
//     ([CommanderFetcher]).
//  2. [Normalize] keeps one provisional [Message] per message event, drops
//     redacted ones and sets edits aside.
//  3. [ResolveEdits] applies the newest edit of each message while keeping
//     its original timestamp and position.
//  4. [RenderHTML] and [RenderText] produce the page and the plain-text log.
//  5. [Writer] swaps the files into archive/<slug>/ and rebuilds the
//     top-level index.html from every archive on disk.
//
// Rooms are processed one after another and share no state. A room that
// fails keeps the output of its last successful run.
//
// # Sub-packages
//
//   - bodyfmt converts a plain-text message body to escaped HTML.
package archiver
