// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fetcher

import (
	"fmt"
	"strings"

	"github.com/ManuGH/podmirror/internal/errkind"
)

// classify maps a non-zero yt-dlp exit into the error taxonomy using the
// captured stderr tail. The last stderr line is attached to the error so
// operators see the tool's own message.
func classify(op string, err error, tail []string) error {
	kind := kindFromOutput(strings.ToLower(strings.Join(tail, "\n")))
	if len(tail) > 0 {
		err = fmt.Errorf("%w: %s", err, tail[len(tail)-1])
	}
	return errkind.New(kind, op, err)
}

func kindFromOutput(out string) errkind.Kind {
	switch {
	case containsAny(out,
		"private video",
		"sign in to confirm",
		"members-only",
		"join this channel",
		"http error 403",
		"access denied"):
		return errkind.Forbidden
	case containsAny(out,
		"video unavailable",
		"does not exist",
		"has been removed",
		"account associated with this video has been terminated",
		"http error 404",
		"not found"):
		return errkind.NotFound
	case containsAny(out,
		"unsupported url",
		"no video formats found",
		"requested format is not available",
		"unable to extract"):
		return errkind.Format
	case containsAny(out,
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure in name resolution",
		"getaddrinfo",
		"network is unreachable",
		"http error 429",
		"http error 5"):
		return errkind.Network
	}
	return errkind.Unknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
