// Copyright 2026 The ghsync Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects Real(); tests inject Fake() and drive time
// deterministically with Advance. The sync coordinator's retry backoff
// is the main consumer — with a fake clock a test can step through an
// entire bounded-retry sequence without sleeping.
package clock
