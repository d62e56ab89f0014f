/*
Package resilience provides a circuit breaker for graceful degradation.

# Overview

The gateway polls an external version descriptor on a fixed cadence; when the
deploy host misbehaves, the breaker fails those polls fast instead of letting
every tick hang on a dead endpoint. The poll already fails open (a failed
check means "no update this cycle"), so tripping the breaker degrades nothing
user-visible.

# Usage

	breaker := resilience.New("version-poll", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Do(func() error {
		return client.Poll()
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
