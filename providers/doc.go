// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package providers holds the outbound integrations used to fill sessions with
candidates.

Subpackages:

	places     Google Places Text Search and Details
	watchmode  Watchmode list-titles and title details
	llm        OpenAI chat completions for custom option lists

The shared Fetcher issues GET requests through a pooled cleanhttp client,
retries network errors, 429 and 5xx responses with exponential backoff, and
reports every attempt to a usage.Sink. A 4xx response is returned as an
*UpstreamError without retrying.

Handlers map ErrNotConfigured to 503 and *UpstreamError to 502.
*/
package providers
